package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	pssession "github.com/dnielsn/go-pssession"
	"github.com/dnielsn/go-pssession/coercion"
	"github.com/dnielsn/go-pssession/objects"
)

var (
	runParams   []string
	runSwitches []string
)

var runCmd = &cobra.Command{
	Use:   "run <command|script>",
	Short: "Run a command or script on the target",
	Long: `run invokes one pipeline on the target and prints its results.

A bare cmdlet name runs as a command so --param and --switch can attach
to it; anything containing shell syntax runs as script text.`,
	Example: `  pssession run Get-Date
  pssession run Get-ChildItem --param Path=C:/logs --switch Recurse
  pssession run '(Get-Process | Measure-Object).Count'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command, err := buildCommand(args[0], runParams, runSwitches)
		if err != nil {
			return err
		}

		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.Close()

		results, err := pssession.Run[any](cmd.Context(), sess, command)
		if err != nil {
			return err
		}
		for _, v := range results {
			pterm.Println(coercion.Stringify(v))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "command parameter as name=value, repeatable")
	runCmd.Flags().StringArrayVar(&runSwitches, "switch", nil, "command switch name, repeatable")
}

// buildCommand turns the argument and flags into one pipeline command.
func buildCommand(text string, params, switches []string) (*objects.Command, error) {
	if strings.ContainsAny(text, " \t\n|;&$(){}'\"") {
		if len(params) > 0 || len(switches) > 0 {
			return nil, errors.New("--param and --switch apply to a single command, not script text")
		}
		return objects.NewScript(text), nil
	}

	c := objects.NewCommand(text)
	for _, p := range params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad --param %q, want name=value", p)
		}
		c = c.WithParameter(name, value)
	}
	for _, s := range switches {
		if s == "" {
			return nil, errors.New("empty --switch name")
		}
		c = c.WithSwitch(s)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
