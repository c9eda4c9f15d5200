package main

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/session"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe the connection target",
	Long: `test opens a throwaway session against the resolved target and reports
whether the handshake succeeded. The exit code is 0 when the target is
reachable and 1 when it is not.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := resolveSettings(cmd)
		if err != nil {
			return err
		}
		info, err := s.connectionInfo()
		if err != nil {
			return err
		}

		target := s.Address
		if target == "" {
			target = "local"
		} else if s.Port > 0 {
			target = fmt.Sprintf("%s:%d", s.Address, s.Port)
		}

		var opts []session.Option
		if flagVerbose {
			opts = append(opts, session.WithSlogLogger(slog.Default()))
		}
		if !session.New(opts...).TestConnection(cmd.Context(), info) {
			return fmt.Errorf("cannot reach %s", target)
		}
		pterm.Success.Printf("Connected to %s\n", target)
		return nil
	},
}
