// Package objects defines the value types that travel through a session:
// commands, error and progress records, credentials, and the boxed object
// form rich engine results arrive in.
//
// # Command
//
// Command is an ordered builder. Parameters keep the order they were added
// in, names are case-insensitively unique, and setting an existing name
// replaces the value without moving it:
//
//	cmd := objects.NewCommand("Get-Item").
//	    WithParameter("LiteralPath", `C:\temp\app.zip`).
//	    WithSwitch("Force")
//
// # Credential
//
// Credential wraps a user name and a SecureString password. SecureString
// keeps the value AES-GCM encrypted in memory with a per-value random key:
//
//	ss, err := objects.NewSecureString("secret")
//	if err != nil {
//		return err
//	}
//	defer ss.Clear()
package objects

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyCommand is returned by Command.Validate for a command with no name.
var ErrEmptyCommand = errors.New("command has no name")

// Parameter is a single named argument of a Command.
type Parameter struct {
	Name  string
	Value any
}

// Command is one element of a pipeline: an invokable name or a script block,
// with ordered parameters and switches.
type Command struct {
	name     string
	script   bool
	params   []Parameter
	switches []string
}

// NewCommand creates a command that invokes name.
func NewCommand(name string) *Command {
	return &Command{name: name}
}

// NewScript creates a command whose text is executed as script.
func NewScript(text string) *Command {
	return &Command{name: text, script: true}
}

// WithParameter sets a named parameter. Names are case-insensitively unique;
// setting an existing name replaces its value in place, keeping the original
// position and spelling. A nil value is allowed.
func (c *Command) WithParameter(name string, value any) *Command {
	for i := range c.params {
		if strings.EqualFold(c.params[i].Name, name) {
			c.params[i].Value = value
			return c
		}
	}
	c.params = append(c.params, Parameter{Name: name, Value: value})
	return c
}

// WithSwitch adds a flag parameter. Re-adding an existing switch, in any
// casing, is a no-op.
func (c *Command) WithSwitch(name string) *Command {
	for _, s := range c.switches {
		if strings.EqualFold(s, name) {
			return c
		}
	}
	c.switches = append(c.switches, name)
	return c
}

// Name returns the command name, or the script text for script commands.
func (c *Command) Name() string { return c.name }

// IsScript reports whether the command body is script text rather than an
// invokable name.
func (c *Command) IsScript() bool { return c.script }

// Parameters returns the ordered parameter list.
func (c *Command) Parameters() []Parameter {
	out := make([]Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// Switches returns the ordered switch list.
func (c *Command) Switches() []string {
	out := make([]string, len(c.switches))
	copy(out, c.switches)
	return out
}

// Validate checks that the command can be sent.
func (c *Command) Validate() error {
	if strings.TrimSpace(c.name) == "" {
		return ErrEmptyCommand
	}
	return nil
}

// String renders the command for logs. Script text is reproduced verbatim,
// truncated past 80 runes.
func (c *Command) String() string {
	if c.script {
		text := c.name
		if r := []rune(text); len(r) > 80 {
			text = string(r[:80]) + "..."
		}
		return text
	}
	var b strings.Builder
	b.WriteString(c.name)
	for _, p := range c.params {
		fmt.Fprintf(&b, " -%s %v", p.Name, p.Value)
	}
	for _, s := range c.switches {
		fmt.Fprintf(&b, " -%s", s)
	}
	return b.String()
}

// ErrorRecord is the failure record the engine emits on its error stream.
type ErrorRecord struct {
	Message               string
	FullyQualifiedErrorID string
	CategoryInfo          string
	TargetObject          any
	ScriptStackTrace      string
}

// String returns the single-line form forwarded to host error sinks.
func (r *ErrorRecord) String() string {
	if r == nil {
		return ""
	}
	if r.FullyQualifiedErrorID != "" {
		return r.Message + " (" + r.FullyQualifiedErrorID + ")"
	}
	return r.Message
}

// Err converts the record to an error value.
func (r *ErrorRecord) Err() error {
	return &RemoteError{Record: r}
}

// RemoteError is an ErrorRecord carried as a Go error.
type RemoteError struct {
	Record *ErrorRecord
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e == nil || e.Record == nil {
		return "remote error"
	}
	return e.Record.String()
}

// ProgressRecordType indicates whether an activity is still running.
type ProgressRecordType int

const (
	ProgressRecordTypeProcessing ProgressRecordType = iota
	ProgressRecordTypeCompleted
)

// ProgressRecord is a progress update routed to the host progress sink.
type ProgressRecord struct {
	ActivityID        int
	ParentActivityID  int
	Activity          string
	StatusDescription string
	CurrentOperation  string
	PercentComplete   int
	SecondsRemaining  int
	RecordType        ProgressRecordType
}

// Credential pairs a user name with an encrypted password.
type Credential struct {
	UserName string
	Password *SecureString
}

// NewCredential creates a Credential.
func NewCredential(userName string, password *SecureString) *Credential {
	return &Credential{UserName: userName, Password: password}
}

// Clear wipes the credential password from memory.
func (c *Credential) Clear() {
	if c != nil && c.Password != nil {
		c.Password.Clear()
	}
}

// SecureString holds a sensitive string AES-GCM encrypted in memory with a
// random per-value key. It is protection against accidental exposure in logs
// and dumps, not against a debugger.
type SecureString struct {
	encrypted []byte
	key       []byte
}

// NewSecureString encrypts plaintext into a SecureString.
func NewSecureString(plaintext string) (*SecureString, error) {
	ss := &SecureString{key: make([]byte, 32)}
	if _, err := io.ReadFull(rand.Reader, ss.key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	block, err := aes.NewCipher(ss.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ss.encrypted = gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return ss, nil
}

// Reveal returns the plaintext. The caller should zero the returned slice
// when done with it.
func (s *SecureString) Reveal() ([]byte, error) {
	if s == nil || len(s.encrypted) == 0 {
		return nil, nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(s.encrypted) < gcm.NonceSize() {
		return nil, io.ErrUnexpectedEOF
	}
	nonce, ciphertext := s.encrypted[:gcm.NonceSize()], s.encrypted[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Clear zeroes the key and ciphertext.
func (s *SecureString) Clear() {
	if s == nil {
		return
	}
	for i := range s.encrypted {
		s.encrypted[i] = 0
	}
	for i := range s.key {
		s.key[i] = 0
	}
}

// String redacts the value so SecureStrings never leak through %v.
func (s *SecureString) String() string { return "********" }

// Property is one named member of a boxed Object. Order is preserved.
type Property struct {
	Name  string
	Value any
}

// Object is the boxed form rich engine results arrive in: type names, an
// ordered property bag, an optional rendered string, and the inner value
// when the engine wrapped a plain scalar.
type Object struct {
	TypeNames  []string
	Properties []Property
	ToString   string
	Value      any
}

// Property looks a member up by case-insensitive name.
func (o *Object) Property(name string) (any, bool) {
	if o == nil {
		return nil, false
	}
	for _, p := range o.Properties {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return nil, false
}

// SetProperty sets a member, replacing a case-insensitive match in place.
func (o *Object) SetProperty(name string, value any) {
	for i := range o.Properties {
		if strings.EqualFold(o.Properties[i].Name, name) {
			o.Properties[i].Value = value
			return
		}
	}
	o.Properties = append(o.Properties, Property{Name: name, Value: value})
}

// String returns the engine-rendered form when present, else a best-effort
// rendering of the inner value or type name.
func (o *Object) String() string {
	switch {
	case o == nil:
		return ""
	case o.ToString != "":
		return o.ToString
	case o.Value != nil:
		return fmt.Sprintf("%v", o.Value)
	case len(o.TypeNames) > 0:
		return o.TypeNames[0]
	default:
		return "System.Object"
	}
}

// FieldDescription describes one field of a structured host prompt.
type FieldDescription struct {
	Name        string
	Label       string
	HelpMessage string
	IsSecure    bool
}

// ChoiceDescription describes one option of a host choice prompt. A '&' in
// the label marks the hot key, PowerShell style.
type ChoiceDescription struct {
	Label       string
	HelpMessage string
}

// CleanLabel returns the label with the hot-key marker stripped.
func (c ChoiceDescription) CleanLabel() string {
	return strings.ReplaceAll(c.Label, "&", "")
}
