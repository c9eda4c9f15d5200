// Package escape renders untrusted strings into syntax-safe PowerShell
// source fragments. Every path, file name, and expected value that the
// transfer layer splices into a synthesized script goes through here, so a
// quote or subexpression in a remote path can never escape its literal.
package escape

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
)

// variableNameRegex matches bare $name identifiers. Braced or scoped
// variable forms are deliberately out.
var variableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Literal wraps s in single quotes, doubling internal single quotes. The
// result is always a single token and nothing inside it expands, including
// newlines, dollars, and backticks.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Expandable wraps s in double quotes with backtick escapes, so the result
// is safe to embed while still allowing the caller to splice $variables
// around it. Prefer Literal unless expansion is the point.
func Expandable(s string) string {
	r := strings.NewReplacer(
		"`", "``",
		`"`, "`\"",
		"$", "`$",
		"\x00", "`0",
	)
	return `"` + r.Replace(s) + `"`
}

// ValidateVariableName checks that s is usable as a bare $name identifier.
func ValidateVariableName(s string) error {
	if s == "" {
		return fmt.Errorf("variable name is empty")
	}
	if !variableNameRegex.MatchString(s) {
		return fmt.Errorf("variable name %q contains invalid characters", s)
	}
	return nil
}

// EncodedCommand converts a script to the base64 UTF-16LE form the engine
// accepts as a pre-parsed command argument. Round-trips any Unicode text.
func EncodedCommand(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeCommand reverses EncodedCommand. Odd-length payloads are rejected.
func DecodeCommand(encoded string) (string, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode command: %w", err)
	}
	if len(buf)%2 != 0 {
		return "", fmt.Errorf("decode command: truncated UTF-16 payload")
	}
	units := make([]uint16, len(buf)/2)
	for i := range units {
		units[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	return string(utf16.Decode(units)), nil
}
