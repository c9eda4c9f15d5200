package host

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/dnielsn/go-pssession/objects"
)

// Console returns a host wired to the terminal. Default-display text goes
// through plain pterm output, errors through the pterm error printer, and
// progress records render as progress bars keyed by activity. Prompts use
// pterm's interactive inputs when stdin is a terminal and fall back to
// plain line reads when it is not.
func Console() *Host {
	progress := &consoleProgress{bars: make(map[int]*pterm.ProgressbarPrinter)}

	return New(Callbacks{
		WriteLine: func(text string) {
			pterm.Println(text)
		},
		WriteErrorLine: func(text string) {
			pterm.Error.Println(text)
		},
		WriteProgress:       progress.write,
		ReadLine:            consoleReadLine,
		Prompt:              consolePrompt,
		PromptForChoice:     consolePromptForChoice,
		PromptForCredential: consolePromptForCredential,
	})
}

// consoleProgress renders progress records as pterm progress bars, one per
// activity id.
type consoleProgress struct {
	mu   sync.Mutex
	bars map[int]*pterm.ProgressbarPrinter
}

func (cp *consoleProgress) write(rec *objects.ProgressRecord) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	bar := cp.bars[rec.ActivityID]

	if rec.RecordType == objects.ProgressRecordTypeCompleted {
		if bar != nil {
			bar.Add(bar.Total - bar.Current)
			_, _ = bar.Stop()
			delete(cp.bars, rec.ActivityID)
		}
		return
	}

	if bar == nil {
		started, err := pterm.DefaultProgressbar.WithTotal(100).WithTitle(rec.Activity).Start()
		if err != nil {
			return
		}
		bar = started
		cp.bars[rec.ActivityID] = bar
	}

	if rec.StatusDescription != "" {
		bar.UpdateTitle(rec.Activity + ": " + rec.StatusDescription)
	}
	if rec.PercentComplete >= 0 && rec.PercentComplete > bar.Current {
		bar.Add(rec.PercentComplete - bar.Current)
	}
}

func consoleReadLine() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readPlainLine()
	}
	return pterm.DefaultInteractiveTextInput.Show()
}

func consolePrompt(caption, message string, fields []*objects.FieldDescription) (map[string]any, error) {
	printPromptHeader(caption, message)

	answers := make(map[string]any, len(fields))
	for _, f := range fields {
		label := f.Label
		if label == "" {
			label = f.Name
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			value, err := readPlainLine()
			if err != nil {
				return nil, err
			}
			answers[f.Name] = value
			continue
		}

		input := pterm.DefaultInteractiveTextInput.WithDefaultText(label)
		if f.IsSecure {
			input = input.WithMask("*")
		}
		value, err := input.Show()
		if err != nil {
			return nil, err
		}
		answers[f.Name] = value
	}
	return answers, nil
}

func consolePromptForChoice(caption, message string, choices []*objects.ChoiceDescription, defaultChoice int) (int, error) {
	printPromptHeader(caption, message)

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.CleanLabel()
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return defaultChoice, nil
	}

	sel := pterm.DefaultInteractiveSelect.WithOptions(labels)
	if defaultChoice >= 0 && defaultChoice < len(labels) {
		sel = sel.WithDefaultOption(labels[defaultChoice])
	}
	picked, err := sel.Show()
	if err != nil {
		return defaultChoice, err
	}

	for i, label := range labels {
		if label == picked {
			return i, nil
		}
	}
	return defaultChoice, nil
}

func consolePromptForCredential(caption, message, userName string) (*objects.Credential, error) {
	printPromptHeader(caption, message)

	if userName == "" {
		name, err := pterm.DefaultInteractiveTextInput.WithDefaultText("User name").Show()
		if err != nil {
			return nil, err
		}
		userName = name
	}

	password, err := pterm.DefaultInteractiveTextInput.
		WithMask("*").
		WithDefaultText("Password for " + userName).
		Show()
	if err != nil {
		return nil, err
	}

	secure, err := objects.NewSecureString(password)
	if err != nil {
		return nil, err
	}
	return objects.NewCredential(userName, secure), nil
}

func printPromptHeader(caption, message string) {
	if caption != "" {
		pterm.DefaultSection.Println(caption)
	}
	if message != "" {
		pterm.Println(message)
	}
}

func readPlainLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
