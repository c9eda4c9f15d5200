package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/dnielsn/go-pssession/escape"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/pipeline"
)

// GetFileBytes reads a remote file whole. A missing file wraps
// fs.ErrNotExist.
func (t *Transfer) GetFileBytes(ctx context.Context, path string) ([]byte, error) {
	exists, err := t.PathExists(ctx, path, true, false)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	out, err := pipeline.Invoke[string](ctx, t.exec, t.sess, objects.NewScript(fmt.Sprintf(
		"[System.Convert]::ToBase64String([System.IO.File]::ReadAllBytes(%s))", escape.Literal(path))))
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(out, ""))
	if err != nil {
		return nil, fmt.Errorf("decode remote read of %s: %w", path, err)
	}
	return data, nil
}

// GetFileText reads a remote file as text. A leading UTF-8 or UTF-16
// byte order mark picks the decoder and is stripped; bytes without one
// are read as UTF-8.
func (t *Transfer) GetFileText(ctx context.Context, path string) (string, error) {
	data, err := t.GetFileBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

func decodeText(data []byte) (string, error) {
	var dec *encoding.Decoder
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), nil
	case bytes.HasPrefix(data, bomUTF16LE):
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case bytes.HasPrefix(data, bomUTF16BE):
		dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	default:
		return string(data), nil
	}
	text, err := dec.Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode utf-16 text: %w", err)
	}
	return string(text), nil
}
