// Package archive extracts zip archives onto a remote host.
//
// The extractor walks an archive entry by entry, creating directory
// markers through the transfer layer and uploading file entries whole.
// One progress activity spans the run, weighted by uncompressed entry
// size. Cancellation is honored between entries; whatever was already
// extracted stays in place.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dnielsn/go-pssession/host"
	"github.com/dnielsn/go-pssession/objects"
	"github.com/dnielsn/go-pssession/transfer"
)

// uploader is the slice of the transfer surface the extractor consumes.
type uploader interface {
	PutFile(ctx context.Context, path string, data []byte, unblock bool) error
	EnsureDirectory(ctx context.Context, path string) error
}

var _ uploader = (*transfer.Transfer)(nil)

// Option adjusts an Extractor.
type Option func(*Extractor)

// WithHost routes extraction progress to h instead of the session host.
func WithHost(h *host.Host) Option {
	return func(e *Extractor) {
		if h != nil {
			e.host = h
		}
	}
}

// WithActivityID overrides the random id source that keys each run's
// progress records.
func WithActivityID(next func() int) Option {
	return func(e *Extractor) {
		if next != nil {
			e.activityID = next
		}
	}
}

// Extractor writes zip entries to a remote tree through a Transfer.
type Extractor struct {
	up         uploader
	host       *host.Host
	activityID func() int
}

// NewExtractor returns an Extractor uploading through t. Progress goes
// to t's session host unless WithHost overrides it.
func NewExtractor(t *transfer.Transfer, opts ...Option) *Extractor {
	e := &Extractor{
		up:         t,
		host:       host.Silent(),
		activityID: func() int { return int(rand.Int32()) },
	}
	if t != nil && t.Session() != nil {
		e.host = t.Session().Host()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFile opens a local zip archive and extracts it under outputPath.
func (e *Extractor) ExtractFile(ctx context.Context, zipPath, outputPath string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer zr.Close()
	return e.ExtractTo(ctx, &zr.Reader, outputPath)
}

// ExtractTo uploads every entry of zr under outputPath, which is treated
// as a directory. A canceled context stops the walk before the next
// entry; entries already extracted are left in place.
func (e *Extractor) ExtractTo(ctx context.Context, zr *zip.Reader, outputPath string) error {
	root, sep := normalizeRoot(outputPath)
	run := newProgressRun(e.host, e.activityID(), root, zr)

	for _, entry := range zr.File {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction canceled at %s: %w", entry.Name, err)
		}
		name := entry.Name
		if sep != "/" {
			name = strings.ReplaceAll(name, "/", sep)
		}
		target := root + name

		if isDirMarker(entry) {
			if err := e.up.EnsureDirectory(ctx, strings.TrimRight(target, `/\`)); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		} else {
			data, err := readEntry(entry)
			if err != nil {
				return err
			}
			if err := e.up.PutFile(ctx, target, data, false); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
		}
		run.advance(entry)
	}
	run.complete()
	return nil
}

// normalizeRoot gives outputPath exactly one trailing separator, keeping
// whichever separator style the path already uses.
func normalizeRoot(outputPath string) (root, sep string) {
	sep = "/"
	if strings.ContainsRune(outputPath, '\\') {
		sep = `\`
	}
	return strings.TrimRight(outputPath, `/\`) + sep, sep
}

// isDirMarker reports whether entry is a directory placeholder, a name
// ending in a separator with no content.
func isDirMarker(entry *zip.File) bool {
	return entry.UncompressedSize64 == 0 &&
		(strings.HasSuffix(entry.Name, "/") || strings.HasSuffix(entry.Name, `\`))
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", entry.Name, err)
	}
	return data, nil
}

// progressRun is one extraction's progress activity.
type progressRun struct {
	host    *host.Host
	id      int
	root    string
	started time.Time
	total   uint64
	done    uint64
}

func newProgressRun(h *host.Host, id int, root string, zr *zip.Reader) *progressRun {
	var total uint64
	for _, entry := range zr.File {
		total += entryWeight(entry)
	}
	return &progressRun{host: h, id: id, root: root, started: time.Now(), total: total}
}

// entryWeight counts every entry as at least one byte so empty entries
// cannot zero the denominator.
func entryWeight(entry *zip.File) uint64 {
	if entry.UncompressedSize64 == 0 {
		return 1
	}
	return entry.UncompressedSize64
}

// advance reports one finished entry. The ETA extrapolates linearly from
// elapsed time and stays at -1 until the percentage moves off zero.
func (p *progressRun) advance(entry *zip.File) {
	p.done += entryWeight(entry)
	percent := int(p.done * 100 / p.total)
	seconds := -1
	if percent > 0 {
		elapsed := time.Since(p.started)
		seconds = int(elapsed.Seconds() * float64(100-percent) / float64(percent))
	}
	p.host.Progress(&objects.ProgressRecord{
		ActivityID:        p.id,
		Activity:          "Extracting archive to " + p.root,
		StatusDescription: fmt.Sprintf("%d of %d bytes", p.done, p.total),
		CurrentOperation:  entry.Name,
		PercentComplete:   percent,
		SecondsRemaining:  seconds,
	})
}

func (p *progressRun) complete() {
	p.host.Progress(&objects.ProgressRecord{
		ActivityID:        p.id,
		Activity:          "Extracting archive to " + p.root,
		StatusDescription: "done",
		PercentComplete:   100,
		RecordType:        objects.ProgressRecordTypeCompleted,
	})
}
