package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/transfer"
)

var fetchText bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <remote> [local]",
	Short: "Download a remote file",
	Long: `fetch reads a file from the target into a local file, defaulting to
the remote name in the working directory. A local path of "-" writes to
stdout. --text decodes the content first, honoring a UTF-8 or UTF-16
byte order mark.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		tr := transfer.New(sess)

		var data []byte
		if fetchText {
			text, err := tr.GetFileText(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data = []byte(text)
		} else {
			if data, err = tr.GetFileBytes(cmd.Context(), args[0]); err != nil {
				return err
			}
		}

		local := remoteBase(args[0])
		if len(args) == 2 {
			local = args[1]
		}
		if local == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(local, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", local, err)
		}
		pterm.Success.Printf("Fetched %s to %s (%d bytes)\n", args[0], local, len(data))
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchText, "text", false, "decode the content as text before writing")
}

// remoteBase returns the file name component of a remote path in either
// separator style.
func remoteBase(remotePath string) string {
	trimmed := strings.TrimRight(remotePath, `/\`)
	if i := strings.LastIndexAny(trimmed, `/\`); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
