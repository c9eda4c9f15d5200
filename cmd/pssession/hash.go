package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dnielsn/go-pssession/transfer"
)

var hashAlgorithm string

var hashCmd = &cobra.Command{
	Use:   "hash <remote>",
	Short: "Hash a remote file",
	Long: `hash prints the digest of a remote file as uppercase hex. Supported
algorithms are MD5, SHA1, SHA256, SHA384, and SHA512; a "+LENGTH" suffix
appends the byte length as HEXHASH::BYTELENGTH.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		sum, err := transfer.New(sess).GetFileHash(cmd.Context(), args[0], hashAlgorithm)
		if err != nil {
			return err
		}
		fmt.Println(sum)
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVar(&hashAlgorithm, "algorithm", transfer.AlgorithmMD5, "hash algorithm, optionally with +LENGTH")
}
