package transfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dnielsn/go-pssession/escape"
	"github.com/dnielsn/go-pssession/objects"
)

// cleanupGrace bounds the best-effort stage file removal after a chunked
// upload, which runs on its own context so a canceled upload still gets
// cleaned up.
const cleanupGrace = 30 * time.Second

// PutFile writes data to a remote file, creating parent directories as
// needed. When the remote content already verifies against data the write
// is skipped entirely. Payloads under the chunk size go as one inline
// write; larger ones are staged as "<path>.<index>" siblings, reassembled
// remotely in index order, and re-verified. When unblock is set the
// file's downloaded-from-network mark is cleared on every successful
// path, including the skip.
func (t *Transfer) PutFile(ctx context.Context, path string, data []byte, unblock bool) error {
	ok, err := t.VerifyFileContents(ctx, path, data)
	if err != nil {
		return err
	}
	if ok {
		return t.maybeUnblock(ctx, path, unblock)
	}

	if err := t.ensureParent(ctx, path); err != nil {
		return err
	}
	if len(data) < t.chunkSize {
		if err := t.writeInline(ctx, path, data); err != nil {
			return err
		}
		return t.maybeUnblock(ctx, path, unblock)
	}

	if err := t.writeChunked(ctx, path, data); err != nil {
		return err
	}
	ok, err = t.VerifyFileContents(ctx, path, data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrVerificationFailed, path)
	}
	return t.maybeUnblock(ctx, path, unblock)
}

// ensureParent creates the directory that will hold path. The split runs
// remotely so the engine's own path rules apply.
func (t *Transfer) ensureParent(ctx context.Context, path string) error {
	script := fmt.Sprintf(
		"$parent = Split-Path -LiteralPath %s -Parent\n"+
			"if ($parent) { $null = New-Item -ItemType Directory -Path $parent -Force }",
		escape.Literal(path))
	return t.runScript(ctx, script)
}

// writeInline sends the whole payload as one base64 write. Empty data
// produces an empty file.
func (t *Transfer) writeInline(ctx context.Context, path string, data []byte) error {
	script := fmt.Sprintf(
		"$bytes = [System.Convert]::FromBase64String(%s)\n"+
			"[System.IO.File]::WriteAllBytes(%s, $bytes)",
		escape.Literal(base64.StdEncoding.EncodeToString(data)), escape.Literal(path))
	return t.runScript(ctx, script)
}

// writeChunked uploads chunk-size slices to numbered stage files, then
// concatenates them into path with one remote command. Stage files are
// removed whether or not reassembly succeeded; the caller re-verifies.
func (t *Transfer) writeChunked(ctx context.Context, path string, data []byte) error {
	staged := make([]string, 0, (len(data)+t.chunkSize-1)/t.chunkSize)
	for i := 0; i*t.chunkSize < len(data); i++ {
		staged = append(staged, fmt.Sprintf("%s.%d", path, i))
	}
	defer t.removeStaged(staged)

	activity := int(rand.Int32())
	for i, stage := range staged {
		lo := i * t.chunkSize
		hi := min(lo+t.chunkSize, len(data))
		if err := t.writeInline(ctx, stage, data[lo:hi]); err != nil {
			return err
		}
		t.sess.Host().Progress(&objects.ProgressRecord{
			ActivityID:        activity,
			Activity:          "Copying " + path,
			StatusDescription: fmt.Sprintf("chunk %d of %d", i+1, len(staged)),
			CurrentOperation:  stage,
			PercentComplete:   (i + 1) * 100 / len(staged),
			SecondsRemaining:  -1,
		})
	}
	if err := t.concatStaged(ctx, path, staged); err != nil {
		return err
	}
	t.sess.Host().Progress(&objects.ProgressRecord{
		ActivityID:        activity,
		Activity:          "Copying " + path,
		StatusDescription: "reassembled",
		PercentComplete:   100,
		RecordType:        objects.ProgressRecordTypeCompleted,
	})
	return nil
}

// concatStaged rebuilds path from its stage files in index order.
func (t *Transfer) concatStaged(ctx context.Context, path string, staged []string) error {
	script := fmt.Sprintf(
		"$out = [System.IO.File]::Open(%s, [System.IO.FileMode]::Create)\n"+
			"try {\n"+
			"    foreach ($stage in @(%s)) {\n"+
			"        $bytes = [System.IO.File]::ReadAllBytes($stage)\n"+
			"        $out.Write($bytes, 0, $bytes.Length)\n"+
			"    }\n"+
			"} finally {\n"+
			"    $out.Dispose()\n"+
			"}",
		escape.Literal(path), quoteList(staged))
	return t.runScript(ctx, script)
}

// removeStaged best-effort deletes the stage files. Failures are
// swallowed; the upload's own context may already be dead, so the
// cleanup gets a fresh one.
func (t *Transfer) removeStaged(staged []string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupGrace)
	defer cancel()
	_ = t.runScript(ctx, fmt.Sprintf(
		"Remove-Item -LiteralPath @(%s) -Force -ErrorAction SilentlyContinue", quoteList(staged)))
}

// maybeUnblock clears the downloaded-from-network mark when requested.
func (t *Transfer) maybeUnblock(ctx context.Context, path string, unblock bool) error {
	if !unblock {
		return nil
	}
	return t.runScript(ctx, fmt.Sprintf("Unblock-File -LiteralPath %s", escape.Literal(path)))
}

func quoteList(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = escape.Literal(p)
	}
	return strings.Join(quoted, ", ")
}
