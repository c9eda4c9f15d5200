package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/transfer"
)

var rmRecurse bool

var rmCmd = &cobra.Command{
	Use:   "rm <remote>",
	Short: "Delete a remote file or folder",
	Long: `rm deletes a remote file, or with --recurse a folder and everything
under it. Deleting a path that does not exist succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		tr := transfer.New(sess)
		if rmRecurse {
			err = tr.DeleteFolderRecursively(cmd.Context(), args[0])
		} else {
			err = tr.DeleteFile(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		pterm.Success.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rmCmd.Flags().BoolVar(&rmRecurse, "recurse", false, "delete folders and their contents")
}
