package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/transfer"
)

var copyUnblock bool

var copyCmd = &cobra.Command{
	Use:   "copy <local> <remote>",
	Short: "Upload a local file to the target",
	Long: `copy writes a local file to a path on the target, creating parent
directories as needed. The upload is skipped when the remote content
already matches; large payloads go up in chunks.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		if err := transfer.New(sess).PutFile(cmd.Context(), args[1], data, copyUnblock); err != nil {
			return err
		}
		pterm.Success.Printf("Copied %s to %s (%d bytes)\n", args[0], args[1], len(data))
		return nil
	},
}

func init() {
	copyCmd.Flags().BoolVar(&copyUnblock, "unblock", false, "clear the downloaded-from-network mark after writing")
}
