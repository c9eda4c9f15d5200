package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/archive"
	"github.com/dnielsn/go-pssession/transfer"
)

var extractCmd = &cobra.Command{
	Use:   "extract <local.zip> <remote-dir>",
	Short: "Extract a local zip archive onto the target",
	Long: `extract uploads every entry of a local zip archive under a directory
on the target, reporting progress as it goes. Entries already present
with matching content are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		extractor := archive.NewExtractor(transfer.New(sess))
		if err := extractor.ExtractFile(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		pterm.Success.Printf("Extracted %s to %s\n", args[0], args[1])
		return nil
	},
}
