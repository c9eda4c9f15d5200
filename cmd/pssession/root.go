package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	pssession "github.com/dnielsn/go-pssession"
	"github.com/dnielsn/go-pssession/host"
	"github.com/dnielsn/go-pssession/session"
)

var (
	flagHost     string
	flagPort     int
	flagUser     string
	flagKey      string
	flagProfile  string
	flagConfig   string
	flagIdentity string
	flagInsecure bool
	flagTLS      bool
	flagVerbose  bool
	flagTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pssession",
	Short: "Run PowerShell pipelines and move files on a remote engine",
	Long: `pssession opens a session to a PowerShell engine, local or remote,
runs command pipelines on it, and copies files over the same channel.

The target comes from --host/--port, a named --profile from the config
file, or PSSESSION_* environment variables, in rising precedence of
profile, environment, flags. Without a target a local engine process is
started.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagHost, "host", "", "target address, optionally scheme-prefixed (empty starts a local engine)")
	pf.IntVar(&flagPort, "port", 0, "target port (0 keeps the scheme default)")
	pf.StringVar(&flagUser, "user", "", "user name for remote authentication")
	pf.StringVar(&flagKey, "key", "", "SSH private key file")
	pf.StringVar(&flagProfile, "profile", "", "connection profile from the config file")
	pf.StringVar(&flagConfig, "config", "", "config file (default ~/.pssession.yml)")
	pf.StringVar(&flagIdentity, "identity", "", "age identity file for encrypted profile passwords")
	pf.BoolVar(&flagInsecure, "insecure", false, "skip certificate and host key verification")
	pf.BoolVar(&flagTLS, "tls", false, "wrap plain TCP connections in TLS")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.DurationVar(&flagTimeout, "timeout", 0, "connect timeout (0 uses the transport default)")

	rootCmd.AddCommand(runCmd, copyCmd, fetchCmd, extractCmd, hashCmd, rmCmd, testCmd)
}

// openSession resolves the target and connects with a console host bound.
func openSession(cmd *cobra.Command) (*session.Session, error) {
	s, err := resolveSettings(cmd)
	if err != nil {
		return nil, err
	}
	info, err := s.connectionInfo()
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithHost(host.Console())}
	if flagVerbose {
		opts = append(opts, session.WithSlogLogger(slog.Default()))
	}
	return pssession.Open(cmd.Context(), info, opts...)
}
