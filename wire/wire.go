// Package wire implements the typed value codec that packet payloads travel
// in. It speaks a reduced CLIXML-flavored dialect: the element vocabulary
// matches what PowerShell serializers emit for primitives, so payloads stay
// readable to anyone who has stared at CLIXML, but there are no reference
// tables, no depth-limited object graphs, and no cipher layer.
//
// Scalars:
//
//	<S>text</S>  <I32>120</I32>  <I64>120</I64>  <B>true</B>  <Db>1.5</Db>
//	<BA>base64</BA>  <DT>RFC3339</DT>  <G>uuid</G>  <Nil/>
//
// Composites:
//
//	<LST>...items...</LST>
//	<Obj><TN><T>type.name</T></TN><MS><S N="member">...</MS><TS>...</TS><V>...</V></Obj>
//
// Engine concepts (error records, progress records, credentials) keep their
// .NET type names on the wire; protocol-internal records (pipeline state,
// host calls) use the PSSession.* namespace. See records.go.
//
// Control characters and the "_x" ambiguity are encoded with PowerShell's
// _xHHHH_ scheme. The decoder accepts the full form including surrogate
// pairs; the encoder emits the minimal single-unit form, since XML carries
// supplementary-plane text natively.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dnielsn/go-pssession/objects"
)

// maxDepth bounds nesting so a hostile payload cannot recurse the decoder
// off the stack.
const maxDepth = 32

// Marshal encodes a single value as a wire document.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := encodeValue(&b, v, "", 0); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Unmarshal decodes a single value from a wire document.
func Unmarshal(data []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("wire: empty document")
		}
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return decodeElement(dec, se, 0)
		}
	}
}

func encodeValue(b *strings.Builder, v any, name string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("wire: value nests deeper than %d", maxDepth)
	}

	switch t := v.(type) {
	case nil:
		writeEmpty(b, "Nil", name)
	case string:
		writeText(b, "S", name, t)
	case bool:
		writeText(b, "B", name, strconv.FormatBool(t))
	case int:
		encodeInt(b, name, int64(t))
	case int8:
		writeText(b, "I32", name, strconv.FormatInt(int64(t), 10))
	case int16:
		writeText(b, "I32", name, strconv.FormatInt(int64(t), 10))
	case int32:
		writeText(b, "I32", name, strconv.FormatInt(int64(t), 10))
	case int64:
		writeText(b, "I64", name, strconv.FormatInt(t, 10))
	case uint8:
		writeText(b, "I32", name, strconv.FormatUint(uint64(t), 10))
	case uint16:
		writeText(b, "I32", name, strconv.FormatUint(uint64(t), 10))
	case uint32:
		writeText(b, "I64", name, strconv.FormatUint(uint64(t), 10))
	case uint:
		if uint64(t) > math.MaxInt64 {
			return fmt.Errorf("wire: uint %d overflows the wire integer", t)
		}
		writeText(b, "I64", name, strconv.FormatUint(uint64(t), 10))
	case uint64:
		if t > math.MaxInt64 {
			return fmt.Errorf("wire: uint64 %d overflows the wire integer", t)
		}
		writeText(b, "I64", name, strconv.FormatUint(t, 10))
	case float32:
		writeText(b, "Db", name, strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		writeText(b, "Db", name, strconv.FormatFloat(t, 'g', -1, 64))
	case []byte:
		writeText(b, "BA", name, base64.StdEncoding.EncodeToString(t))
	case time.Time:
		writeText(b, "DT", name, t.Format(time.RFC3339Nano))
	case uuid.UUID:
		writeText(b, "G", name, t.String())
	case *objects.Object:
		return encodeObject(b, t, name, depth)
	case *objects.ErrorRecord:
		return encodeObject(b, errorRecordObject(t), name, depth)
	case *objects.ProgressRecord:
		return encodeObject(b, progressRecordObject(t), name, depth)
	case *objects.Credential:
		obj, err := credentialObject(t)
		if err != nil {
			return err
		}
		return encodeObject(b, obj, name, depth)
	case State:
		return encodeObject(b, t.object(), name, depth)
	case *State:
		return encodeObject(b, t.object(), name, depth)
	case HostCall:
		return encodeObject(b, t.object(), name, depth)
	case *HostCall:
		return encodeObject(b, t.object(), name, depth)
	case HostResponse:
		return encodeObject(b, t.object(), name, depth)
	case *HostResponse:
		return encodeObject(b, t.object(), name, depth)
	case []any:
		return encodeList(b, t, name, depth)
	case map[string]any:
		return encodeMap(b, t, name, depth)
	default:
		return encodeReflect(b, v, name, depth)
	}
	return nil
}

// encodeInt picks I32 for values the engine's native int can hold, I64 past
// that, matching how the engine itself types literals.
func encodeInt(b *strings.Builder, name string, v int64) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		writeText(b, "I32", name, strconv.FormatInt(v, 10))
		return
	}
	writeText(b, "I64", name, strconv.FormatInt(v, 10))
}

func encodeObject(b *strings.Builder, obj *objects.Object, name string, depth int) error {
	writeOpen(b, "Obj", name)
	if len(obj.TypeNames) > 0 {
		b.WriteString("<TN>")
		for _, tn := range obj.TypeNames {
			writeText(b, "T", "", tn)
		}
		b.WriteString("</TN>")
	}
	if len(obj.Properties) > 0 {
		b.WriteString("<MS>")
		for _, p := range obj.Properties {
			if err := encodeValue(b, p.Value, p.Name, depth+1); err != nil {
				return err
			}
		}
		b.WriteString("</MS>")
	}
	if obj.ToString != "" {
		writeText(b, "TS", "", obj.ToString)
	}
	if obj.Value != nil {
		b.WriteString("<V>")
		if err := encodeValue(b, obj.Value, "", depth+1); err != nil {
			return err
		}
		b.WriteString("</V>")
	}
	b.WriteString("</Obj>")
	return nil
}

func encodeList(b *strings.Builder, items []any, name string, depth int) error {
	writeOpen(b, "LST", name)
	for _, item := range items {
		if err := encodeValue(b, item, "", depth+1); err != nil {
			return err
		}
	}
	b.WriteString("</LST>")
	return nil
}

// encodeMap writes a plain property bag. Keys are sorted so documents stay
// byte-stable across runs.
func encodeMap(b *strings.Builder, m map[string]any, name string, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeOpen(b, "Obj", name)
	b.WriteString("<MS>")
	for _, k := range keys {
		if err := encodeValue(b, m[k], k, depth+1); err != nil {
			return err
		}
	}
	b.WriteString("</MS></Obj>")
	return nil
}

// encodeReflect covers named types and typed slices that the switch above
// cannot see through.
func encodeReflect(b *strings.Builder, v any, name string, depth int) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		writeText(b, "S", name, rv.String())
		return nil
	case reflect.Bool:
		writeText(b, "B", name, strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		encodeInt(b, name, rv.Int())
		return nil
	case reflect.Float32, reflect.Float64:
		writeText(b, "Db", name, strconv.FormatFloat(rv.Float(), 'g', -1, 64))
		return nil
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return encodeList(b, items, name, depth)
	}
	return fmt.Errorf("wire: unsupported type %T", v)
}

func decodeElement(dec *xml.Decoder, start xml.StartElement, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("wire: document nests deeper than %d", maxDepth)
	}

	switch start.Name.Local {
	case "Nil":
		return nil, dec.Skip()
	case "S":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		return decodeEscapes(text), nil
	case "B":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("wire: bad boolean %q", text)
		}
		return v, nil
	case "I32":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wire: bad int32 %q", text)
		}
		return int32(v), nil
	case "I64":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wire: bad int64 %q", text)
		}
		return v, nil
	case "Db":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("wire: bad double %q", text)
		}
		return v, nil
	case "BA":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("wire: bad byte array: %w", err)
		}
		return v, nil
	case "DT":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("wire: bad datetime %q", text)
		}
		return v, nil
	case "G":
		text, err := collectText(dec)
		if err != nil {
			return nil, err
		}
		v, err := uuid.Parse(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("wire: bad guid %q", text)
		}
		return v, nil
	case "LST":
		return decodeList(dec, depth)
	case "Obj":
		return decodeObject(dec, depth)
	case "Pipe":
		return decodePipe(dec, depth)
	default:
		return nil, fmt.Errorf("wire: unknown element <%s>", start.Name.Local)
	}
}

func decodeList(dec *xml.Decoder, depth int) ([]any, error) {
	items := []any{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			item, err := decodeElement(dec, t, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		case xml.EndElement:
			return items, nil
		}
	}
}

func decodeObject(dec *xml.Decoder, depth int) (*objects.Object, error) {
	obj := &objects.Object{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "TN":
				names, err := decodeTypeNames(dec)
				if err != nil {
					return nil, err
				}
				obj.TypeNames = names
			case "MS":
				if err := decodeMembers(dec, obj, depth); err != nil {
					return nil, err
				}
			case "TS":
				text, err := collectText(dec)
				if err != nil {
					return nil, err
				}
				obj.ToString = decodeEscapes(text)
			case "V":
				inner, err := decodeSingleChild(dec, depth)
				if err != nil {
					return nil, err
				}
				obj.Value = inner
			default:
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("wire: %w", err)
				}
			}
		case xml.EndElement:
			return obj, nil
		}
	}
}

func decodeTypeNames(dec *xml.Decoder) ([]string, error) {
	var names []string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "T" {
				return nil, fmt.Errorf("wire: unexpected <%s> in type names", t.Name.Local)
			}
			text, err := collectText(dec)
			if err != nil {
				return nil, err
			}
			names = append(names, decodeEscapes(text))
		case xml.EndElement:
			return names, nil
		}
	}
}

func decodeMembers(dec *xml.Decoder, obj *objects.Object, depth int) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := attrValue(t, "N")
			val, err := decodeElement(dec, t, depth+1)
			if err != nil {
				return err
			}
			obj.Properties = append(obj.Properties, objects.Property{Name: name, Value: val})
		case xml.EndElement:
			return nil
		}
	}
}

// decodeSingleChild reads exactly one child value and the parent's closing
// tag.
func decodeSingleChild(dec *xml.Decoder, depth int) (any, error) {
	var value any
	seen := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if seen {
				return nil, fmt.Errorf("wire: multiple values where one was expected")
			}
			value, err = decodeElement(dec, t, depth+1)
			if err != nil {
				return nil, err
			}
			seen = true
		case xml.EndElement:
			return value, nil
		}
	}
}

// collectText gathers character data up to the element's closing tag. Child
// elements are a structural error.
func collectText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("wire: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			return b.String(), nil
		case xml.StartElement:
			return "", fmt.Errorf("wire: unexpected <%s> inside scalar", t.Name.Local)
		}
	}
}

func attrValue(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return decodeEscapes(a.Value)
		}
	}
	return ""
}

func writeOpen(b *strings.Builder, tag, name string) {
	b.WriteByte('<')
	b.WriteString(tag)
	writeNameAttr(b, name)
	b.WriteByte('>')
}

func writeEmpty(b *strings.Builder, tag, name string) {
	b.WriteByte('<')
	b.WriteString(tag)
	writeNameAttr(b, name)
	b.WriteString("/>")
}

func writeText(b *strings.Builder, tag, name, text string) {
	writeOpen(b, tag, name)
	b.WriteString(escapeText(text))
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
}

func writeNameAttr(b *strings.Builder, name string) {
	if name == "" {
		return
	}
	b.WriteString(` N="`)
	b.WriteString(escapeAttr(name))
	b.WriteByte('"')
}

const hexDigits = "0123456789ABCDEF"

// escapeText applies XML entity escaping plus _xHHHH_ encoding for control
// characters. Newlines must never survive into a document: packets are
// line-delimited, so a raw newline would split the frame.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '_' && i+size < len(s) && (s[i+size] == 'x' || s[i+size] == 'X'):
			b.WriteString("_x005F_")
		case needsEscape(r):
			writeHex4(&b, uint16(r))
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(escapeText(s), `"`, "&quot;")
}

// needsEscape reports whether a rune must ride as _xHHHH_: C0 and C1
// control characters, plus stray surrogate halves from invalid UTF-8.
func needsEscape(r rune) bool {
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F) || (r >= 0xD800 && r <= 0xDFFF)
}

func writeHex4(b *strings.Builder, v uint16) {
	var buf [7]byte
	buf[0] = '_'
	buf[1] = 'x'
	buf[2] = hexDigits[v>>12&0xF]
	buf[3] = hexDigits[v>>8&0xF]
	buf[4] = hexDigits[v>>4&0xF]
	buf[5] = hexDigits[v&0xF]
	buf[6] = '_'
	b.Write(buf[:])
}

// decodeEscapes reverses _xHHHH_ sequences, accepting surrogate pairs the
// way PowerShell emits supplementary-plane text.
func decodeEscapes(s string) string {
	if !strings.Contains(s, "_x") && !strings.Contains(s, "_X") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if u, n := parseEscape(s[i:]); n > 0 {
			if u >= 0xD800 && u <= 0xDBFF {
				if low, n2 := parseEscape(s[i+n:]); n2 > 0 && low >= 0xDC00 && low <= 0xDFFF {
					b.WriteRune(utf16.DecodeRune(rune(u), rune(low)))
					i += n + n2
					continue
				}
			}
			b.WriteRune(rune(u))
			i += n
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// parseEscape reads one leading _xHHHH_ sequence, returning the code unit
// and consumed length, or length 0 when s does not start with one.
func parseEscape(s string) (uint16, int) {
	if len(s) < 7 || s[0] != '_' || (s[1] != 'x' && s[1] != 'X') || s[6] != '_' {
		return 0, 0
	}
	var v uint16
	for _, c := range []byte(s[2:6]) {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint16(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint16(c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			v |= uint16(c - 'A' + 10)
		default:
			return 0, 0
		}
	}
	return v, 7
}
