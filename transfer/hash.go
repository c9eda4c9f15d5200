package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io/fs"
	"strings"

	"github.com/dnielsn/go-pssession/escape"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/pipeline"
)

// Hash algorithms accepted by GetFileHash and WithHashAlgorithm. Each may
// carry a "+LENGTH" suffix requesting the "HEXHASH::BYTELENGTH" form.
const (
	AlgorithmMD5    = "MD5"
	AlgorithmSHA1   = "SHA1"
	AlgorithmSHA256 = "SHA256"
	AlgorithmSHA384 = "SHA384"
	AlgorithmSHA512 = "SHA512"
)

const lengthSuffix = "+LENGTH"

// parseAlgorithm normalizes an algorithm name and splits off the length
// suffix. An empty name means MD5.
func parseAlgorithm(algorithm string) (name string, withLength bool, err error) {
	name = strings.ToUpper(strings.TrimSpace(algorithm))
	if name == "" {
		name = AlgorithmMD5
	}
	if cut, ok := strings.CutSuffix(name, lengthSuffix); ok {
		name, withLength = cut, true
	}
	switch name {
	case AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA384, AlgorithmSHA512:
		return name, withLength, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
}

// digest hashes data locally, returning uppercase hex like the remote
// engine does.
func digest(name string, data []byte) (string, error) {
	var h hash.Hash
	switch name {
	case AlgorithmMD5:
		h = md5.New()
	case AlgorithmSHA1:
		h = sha1.New()
	case AlgorithmSHA256:
		h = sha256.New()
	case AlgorithmSHA384:
		h = sha512.New384()
	case AlgorithmSHA512:
		h = sha512.New()
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	h.Write(data)
	return fmt.Sprintf("%X", h.Sum(nil)), nil
}

// GetFileSize returns the byte length of a remote file. A missing file
// wraps fs.ErrNotExist.
func (t *Transfer) GetFileSize(ctx context.Context, path string) (int64, error) {
	exists, err := t.PathExists(ctx, path, true, false)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return t.fileSize(ctx, path)
}

// fileSize reads the length of a file the caller already knows exists.
func (t *Transfer) fileSize(ctx context.Context, path string) (int64, error) {
	out, err := pipeline.Invoke[int64](ctx, t.exec, t.sess, objects.NewScript(
		fmt.Sprintf("(Get-Item -LiteralPath %s -Force).Length", escape.Literal(path))))
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("no length reported for %s", path)
	}
	return out[len(out)-1], nil
}

// GetFileHash hashes a remote file. Supported algorithms are MD5, SHA1,
// SHA256, SHA384, and SHA512, each optionally suffixed "+LENGTH"; an
// empty algorithm means MD5. Digests are uppercase hex. A missing file
// wraps fs.ErrNotExist.
func (t *Transfer) GetFileHash(ctx context.Context, path, algorithm string) (string, error) {
	name, withLength, err := parseAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	exists, err := t.PathExists(ctx, path, true, false)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	sum, err := t.fileHash(ctx, path, name)
	if err != nil {
		return "", err
	}
	if !withLength {
		return sum, nil
	}
	size, err := t.fileSize(ctx, path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s::%d", sum, size), nil
}

// fileHash asks the engine for a digest of a file the caller already
// knows exists.
func (t *Transfer) fileHash(ctx context.Context, path, algorithm string) (string, error) {
	out, err := pipeline.Invoke[string](ctx, t.exec, t.sess, objects.NewScript(
		fmt.Sprintf("(Get-FileHash -LiteralPath %s -Algorithm %s).Hash", escape.Literal(path), algorithm)))
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("no hash reported for %s", path)
	}
	return strings.ToUpper(out[len(out)-1]), nil
}

// VerifyFileContents reports whether the remote file at path holds
// exactly expected. Probes run cheapest first, existence then length
// then a digest comparison with the configured algorithm, so a large
// unchanged file is hashed at most once.
func (t *Transfer) VerifyFileContents(ctx context.Context, path string, expected []byte) (bool, error) {
	name, _, err := parseAlgorithm(t.algorithm)
	if err != nil {
		return false, err
	}
	exists, err := t.PathExists(ctx, path, true, false)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	size, err := t.fileSize(ctx, path)
	if err != nil {
		return false, err
	}
	if size != int64(len(expected)) {
		return false, nil
	}
	want, err := digest(name, expected)
	if err != nil {
		return false, err
	}
	got, err := t.fileHash(ctx, path, name)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
