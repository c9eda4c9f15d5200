// Package host binds local user-facing capabilities to a session.
//
// The engine reaches back into the client for anything interactive:
// writing to the default and error displays, reporting progress, reading
// input, and prompting for fields, choices, or credentials. Capabilities
// are wired as individual callbacks; a callback left nil makes that
// capability answer remote calls with a NotImplemented error instead of
// failing the session.
//
// Two presets cover the common cases:
//
//	host.Silent()  no capabilities, for unattended use
//	host.Console() terminal-backed capabilities for interactive use
//
// The session core also writes directly to the host during a drain: raw
// output lines go to the default display, error strings to the error
// display, progress records to the progress sink. These local writes are
// nil-safe and simply discard when unwired.
package host

import (
	"errors"
	"fmt"

	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/wire"
)

// ErrNotImplemented is reported to the engine when it invokes a capability
// the client did not wire.
var ErrNotImplemented = errors.New("host capability not implemented")

// Remote method names carried in host call packets.
const (
	MethodWriteLine           = "WriteLine"
	MethodWriteErrorLine      = "WriteErrorLine"
	MethodWriteProgress       = "WriteProgress"
	MethodReadLine            = "ReadLine"
	MethodPrompt              = "Prompt"
	MethodPromptForChoice     = "PromptForChoice"
	MethodPromptForCredential = "PromptForCredential"
)

// Callbacks wires individual host capabilities. Any field may be nil.
type Callbacks struct {
	// WriteLine receives default-display text.
	WriteLine func(text string)
	// WriteErrorLine receives error-display text.
	WriteErrorLine func(text string)
	// WriteProgress receives progress records.
	WriteProgress func(rec *objects.ProgressRecord)
	// ReadLine reads one line of user input.
	ReadLine func() (string, error)
	// Prompt collects values for a set of described fields, keyed by field
	// name.
	Prompt func(caption, message string, fields []*objects.FieldDescription) (map[string]any, error)
	// PromptForChoice picks one option by index.
	PromptForChoice func(caption, message string, choices []*objects.ChoiceDescription, defaultChoice int) (int, error)
	// PromptForCredential collects a user name and password.
	PromptForCredential func(caption, message, userName string) (*objects.Credential, error)
}

// Host is one session's binding of user-facing capabilities.
type Host struct {
	cb Callbacks
}

// New creates a host with the given capabilities wired.
func New(cb Callbacks) *Host {
	return &Host{cb: cb}
}

// Silent returns a host with no capabilities wired. Local writes discard;
// remote calls answer NotImplemented.
func Silent() *Host {
	return &Host{}
}

// Line writes to the local default display. No-op when unwired.
func (h *Host) Line(text string) {
	if h == nil || h.cb.WriteLine == nil {
		return
	}
	h.cb.WriteLine(text)
}

// ErrorLine writes to the local error display. No-op when unwired.
func (h *Host) ErrorLine(text string) {
	if h == nil || h.cb.WriteErrorLine == nil {
		return
	}
	h.cb.WriteErrorLine(text)
}

// Progress writes to the local progress sink. No-op when unwired.
func (h *Host) Progress(rec *objects.ProgressRecord) {
	if h == nil || h.cb.WriteProgress == nil {
		return
	}
	h.cb.WriteProgress(rec)
}

// Respond executes one engine-originated host call and builds its
// response. It never returns an error: failures, including unwired
// capabilities, travel back to the engine inside the response.
func (h *Host) Respond(call *wire.HostCall) *wire.HostResponse {
	resp := &wire.HostResponse{CallID: call.CallID}

	value, err := h.dispatch(call)
	if err != nil {
		resp.Error = &objects.ErrorRecord{
			Message:               err.Error(),
			FullyQualifiedErrorID: errorID(err),
			CategoryInfo:          categoryInfo(err),
		}
		return resp
	}

	resp.Value = value
	return resp
}

func (h *Host) dispatch(call *wire.HostCall) (any, error) {
	switch call.Method {
	case MethodWriteLine:
		text, err := stringParam(call, 0)
		if err != nil {
			return nil, err
		}
		if h.cb.WriteLine == nil {
			return nil, notImplemented(call)
		}
		h.cb.WriteLine(text)
		return nil, nil

	case MethodWriteErrorLine:
		text, err := stringParam(call, 0)
		if err != nil {
			return nil, err
		}
		if h.cb.WriteErrorLine == nil {
			return nil, notImplemented(call)
		}
		h.cb.WriteErrorLine(text)
		return nil, nil

	case MethodWriteProgress:
		rec, err := progressParam(call, 0)
		if err != nil {
			return nil, err
		}
		if h.cb.WriteProgress == nil {
			return nil, notImplemented(call)
		}
		h.cb.WriteProgress(rec)
		return nil, nil

	case MethodReadLine:
		if h.cb.ReadLine == nil {
			return nil, notImplemented(call)
		}
		return h.cb.ReadLine()

	case MethodPrompt:
		caption, err := stringParam(call, 0)
		if err != nil {
			return nil, err
		}
		message, err := stringParam(call, 1)
		if err != nil {
			return nil, err
		}
		fields, err := fieldsParam(call, 2)
		if err != nil {
			return nil, err
		}
		if h.cb.Prompt == nil {
			return nil, notImplemented(call)
		}
		return h.cb.Prompt(caption, message, fields)

	case MethodPromptForChoice:
		caption, err := stringParam(call, 0)
		if err != nil {
			return nil, err
		}
		message, err := stringParam(call, 1)
		if err != nil {
			return nil, err
		}
		choices, err := choicesParam(call, 2)
		if err != nil {
			return nil, err
		}
		defaultChoice, err := intParam(call, 3)
		if err != nil {
			return nil, err
		}
		if h.cb.PromptForChoice == nil {
			return nil, notImplemented(call)
		}
		return h.cb.PromptForChoice(caption, message, choices, defaultChoice)

	case MethodPromptForCredential:
		caption, err := stringParam(call, 0)
		if err != nil {
			return nil, err
		}
		message, err := stringParam(call, 1)
		if err != nil {
			return nil, err
		}
		userName, err := stringParam(call, 2)
		if err != nil {
			return nil, err
		}
		if h.cb.PromptForCredential == nil {
			return nil, notImplemented(call)
		}
		return h.cb.PromptForCredential(caption, message, userName)

	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrNotImplemented, call.Method)
	}
}

func notImplemented(call *wire.HostCall) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, call.Method)
}

func errorID(err error) string {
	if errors.Is(err, ErrNotImplemented) {
		return "HostCallNotImplemented"
	}
	return "HostCallFailed"
}

func categoryInfo(err error) string {
	if errors.Is(err, ErrNotImplemented) {
		return "NotImplemented"
	}
	return "OperationError"
}

func stringParam(call *wire.HostCall, i int) (string, error) {
	if i >= len(call.Params) {
		return "", fmt.Errorf("%s: missing parameter %d", call.Method, i)
	}
	s, ok := call.Params[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: parameter %d must be a string, got %T", call.Method, i, call.Params[i])
	}
	return s, nil
}

func intParam(call *wire.HostCall, i int) (int, error) {
	if i >= len(call.Params) {
		return 0, fmt.Errorf("%s: missing parameter %d", call.Method, i)
	}
	switch v := call.Params[i].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s: parameter %d must be an integer, got %T", call.Method, i, call.Params[i])
	}
}

func listParam(call *wire.HostCall, i int) ([]any, error) {
	if i >= len(call.Params) {
		return nil, fmt.Errorf("%s: missing parameter %d", call.Method, i)
	}
	list, ok := call.Params[i].([]any)
	if !ok {
		return nil, fmt.Errorf("%s: parameter %d must be a list, got %T", call.Method, i, call.Params[i])
	}
	return list, nil
}

func progressParam(call *wire.HostCall, i int) (*objects.ProgressRecord, error) {
	if i >= len(call.Params) {
		return nil, fmt.Errorf("%s: missing parameter %d", call.Method, i)
	}
	rec, ok := wire.AsProgressRecord(call.Params[i])
	if !ok {
		return nil, fmt.Errorf("%s: parameter %d is not a progress record", call.Method, i)
	}
	return rec, nil
}

// fieldsParam decodes a list of field descriptions. Each entry is either a
// boxed object carrying name/label/helpMessage/isSecure members or a bare
// string naming the field.
func fieldsParam(call *wire.HostCall, i int) ([]*objects.FieldDescription, error) {
	list, err := listParam(call, i)
	if err != nil {
		return nil, err
	}

	fields := make([]*objects.FieldDescription, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			fields = append(fields, &objects.FieldDescription{Name: v})
		case *objects.Object:
			fields = append(fields, &objects.FieldDescription{
				Name:        memberString(v, "name"),
				Label:       memberString(v, "label"),
				HelpMessage: memberString(v, "helpMessage"),
				IsSecure:    memberBool(v, "isSecure"),
			})
		default:
			return nil, fmt.Errorf("%s: field description has type %T", call.Method, item)
		}
	}
	return fields, nil
}

// choicesParam decodes a list of choice descriptions. Bare strings become
// labels.
func choicesParam(call *wire.HostCall, i int) ([]*objects.ChoiceDescription, error) {
	list, err := listParam(call, i)
	if err != nil {
		return nil, err
	}

	choices := make([]*objects.ChoiceDescription, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			choices = append(choices, &objects.ChoiceDescription{Label: v})
		case *objects.Object:
			choices = append(choices, &objects.ChoiceDescription{
				Label:       memberString(v, "label"),
				HelpMessage: memberString(v, "helpMessage"),
			})
		default:
			return nil, fmt.Errorf("%s: choice description has type %T", call.Method, item)
		}
	}
	return choices, nil
}

func memberString(obj *objects.Object, name string) string {
	v, ok := obj.Property(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func memberBool(obj *objects.Object, name string) bool {
	v, ok := obj.Property(name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
