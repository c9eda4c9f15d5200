package objects

import (
	"strings"
	"testing"
)

func TestCommandBuilderOrdering(t *testing.T) {
	cmd := NewCommand("Set-Content").
		WithParameter("LiteralPath", `C:\a.txt`).
		WithParameter("Value", "one").
		WithSwitch("Force").
		WithSwitch("NoNewline")

	params := cmd.Parameters()
	if len(params) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(params))
	}
	if params[0].Name != "LiteralPath" || params[1].Name != "Value" {
		t.Errorf("parameter order not preserved: %v", params)
	}

	switches := cmd.Switches()
	if len(switches) != 2 || switches[0] != "Force" || switches[1] != "NoNewline" {
		t.Errorf("switch order not preserved: %v", switches)
	}
}

func TestCommandBuilderCaseInsensitiveReplace(t *testing.T) {
	cmd := NewCommand("Test-Path").
		WithParameter("LiteralPath", "first").
		WithParameter("PathType", "Leaf").
		WithParameter("literalpath", "second")

	params := cmd.Parameters()
	if len(params) != 2 {
		t.Fatalf("expected replace in place, got %d parameters", len(params))
	}
	// Original position and spelling survive, value is replaced.
	if params[0].Name != "LiteralPath" {
		t.Errorf("expected original spelling kept, got %q", params[0].Name)
	}
	if params[0].Value != "second" {
		t.Errorf("expected replaced value, got %v", params[0].Value)
	}

	cmd.WithSwitch("Force").WithSwitch("FORCE")
	if n := len(cmd.Switches()); n != 1 {
		t.Errorf("expected duplicate switch ignored, got %d switches", n)
	}
}

func TestCommandValidate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *Command
		wantErr bool
	}{
		{"named command", NewCommand("Get-Item"), false},
		{"script", NewScript("1 + 1"), false},
		{"empty name", NewCommand(""), true},
		{"whitespace name", NewCommand("   "), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	cmd := NewCommand("Remove-Item").
		WithParameter("LiteralPath", `C:\tmp`).
		WithSwitch("Recurse")
	got := cmd.String()
	if got != `Remove-Item -LiteralPath C:\tmp -Recurse` {
		t.Errorf("unexpected rendering: %q", got)
	}

	long := NewScript(strings.Repeat("x", 200))
	if r := []rune(long.String()); len(r) > 90 {
		t.Errorf("script rendering not truncated: %d runes", len(r))
	}
}

func TestSecureStringRoundTrip(t *testing.T) {
	ss, err := NewSecureString("MySecretPassword")
	if err != nil {
		t.Fatalf("NewSecureString failed: %v", err)
	}

	plain, err := ss.Reveal()
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if string(plain) != "MySecretPassword" {
		t.Errorf("round trip mismatch: %q", plain)
	}

	if s := ss.String(); strings.Contains(s, "Secret") {
		t.Errorf("String leaked plaintext: %q", s)
	}

	ss.Clear()
	if _, err := ss.Reveal(); err == nil {
		t.Error("expected Reveal to fail after Clear")
	}
}

func TestSecureStringEmpty(t *testing.T) {
	ss, err := NewSecureString("")
	if err != nil {
		t.Fatalf("NewSecureString failed: %v", err)
	}
	plain, err := ss.Reveal()
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if len(plain) != 0 {
		t.Errorf("expected empty plaintext, got %q", plain)
	}
}

func TestErrorRecordString(t *testing.T) {
	rec := &ErrorRecord{
		Message:               "Access is denied",
		FullyQualifiedErrorID: "UnauthorizedAccess",
	}
	if got := rec.String(); got != "Access is denied (UnauthorizedAccess)" {
		t.Errorf("unexpected string form: %q", got)
	}

	bare := &ErrorRecord{Message: "boom"}
	if got := bare.String(); got != "boom" {
		t.Errorf("unexpected string form: %q", got)
	}

	if err := rec.Err(); err.Error() != rec.String() {
		t.Errorf("Err() text diverges from String(): %q", err.Error())
	}
}

func TestObjectProperty(t *testing.T) {
	obj := &Object{
		TypeNames: []string{"System.IO.FileInfo"},
		ToString:  `C:\a.txt`,
	}
	obj.SetProperty("Length", int64(42))
	obj.SetProperty("Name", "a.txt")
	obj.SetProperty("LENGTH", int64(43))

	if len(obj.Properties) != 2 {
		t.Fatalf("expected SetProperty to replace in place, got %d members", len(obj.Properties))
	}
	v, ok := obj.Property("length")
	if !ok {
		t.Fatal("case-insensitive lookup failed")
	}
	if v != int64(43) {
		t.Errorf("expected replaced value 43, got %v", v)
	}
	if obj.String() != `C:\a.txt` {
		t.Errorf("expected ToString rendering, got %q", obj.String())
	}
}

func TestChoiceCleanLabel(t *testing.T) {
	c := ChoiceDescription{Label: "&Yes"}
	if c.CleanLabel() != "Yes" {
		t.Errorf("expected hot-key marker stripped, got %q", c.CleanLabel())
	}
}
