package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/foilbox/foilbox/internal/archive"
	"github.com/foilbox/foilbox/internal/download"
)

// Kind discriminates the source variants.
type Kind int

const (
	// KindLocal is a single file already on disk.
	KindLocal Kind = iota
	// KindLocalArchive is an on-disk archive to extract; the archive is
	// deleted after extraction.
	KindLocalArchive
	// KindLocalDir is a directory whose regular files are imported.
	KindLocalDir
	// KindRemote is a remote file fetched over HTTP.
	KindRemote
	// KindRemoteArchive is a remote archive: fetched, then extracted.
	KindRemoteArchive
	// KindRemoteAuto is a remote file whose extension decides, after the
	// fetch, whether it is extracted.
	KindRemoteAuto
)

// Source is a plan for materializing files, not yet materialized.
type Source struct {
	Kind    Kind
	Path    string            // local variants
	URL     string            // remote variants
	Headers map[string]string // remote variants
}

// Materialized is the result of processing a Source: concrete on-disk files
// plus an optional owned temp dir that must be released after the files are
// moved to their final location.
type Materialized struct {
	Files   []string
	TempDir string
}

// Release removes the owned temp dir, if any. Safe to call repeatedly.
func (m *Materialized) Release() {
	if m.TempDir != "" {
		_ = os.RemoveAll(m.TempDir)
		m.TempDir = ""
	}
}

// Queue is the slice of the download queue the processor needs: start a
// transfer, get a handle back.
type Queue interface {
	Enqueue(url, dest string, headers map[string]string) *download.Handle
}

// Processor materializes sources, fetching through the download queue and
// extracting through the archive extractor.
type Processor struct {
	queue     Queue
	extractor *archive.Extractor
	tempRoot  string
	logger    *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(queue Queue, extractor *archive.Extractor, tempRoot string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{queue: queue, extractor: extractor, tempRoot: tempRoot, logger: logger}
}

// Process resolves a Source into concrete files.
func (p *Processor) Process(ctx context.Context, src *Source) (*Materialized, error) {
	switch src.Kind {
	case KindLocal:
		return &Materialized{Files: []string{src.Path}}, nil

	case KindLocalArchive:
		files, tmpDir, err := p.extractor.Extract(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(src.Path); err != nil {
			p.logger.Warn("failed to remove source archive", "path", src.Path, "error", err)
		}
		return &Materialized{Files: files, TempDir: tmpDir}, nil

	case KindLocalDir:
		files, err := listRegularFiles(src.Path)
		if err != nil {
			return nil, err
		}
		return &Materialized{Files: files}, nil

	case KindRemote:
		file, fetchDir, err := p.fetch(ctx, src.URL, src.Headers)
		if err != nil {
			return nil, err
		}
		return &Materialized{Files: []string{file}, TempDir: fetchDir}, nil

	case KindRemoteArchive:
		return p.fetchAndExtract(ctx, src, true)

	case KindRemoteAuto:
		return p.fetchAndExtract(ctx, src, false)

	default:
		return nil, fmt.Errorf("unknown source kind %d", src.Kind)
	}
}

// fetchAndExtract downloads the remote file and extracts it when forced, or
// when auto-detection recognizes the downloaded file's extension.
func (p *Processor) fetchAndExtract(ctx context.Context, src *Source, force bool) (*Materialized, error) {
	file, fetchDir, err := p.fetch(ctx, src.URL, src.Headers)
	if err != nil {
		return nil, err
	}

	if !force && !archive.IsArchive(file) {
		return &Materialized{Files: []string{file}, TempDir: fetchDir}, nil
	}

	files, tmpDir, err := p.extractor.Extract(ctx, file)
	// The fetched archive and its dir are scratch either way.
	_ = os.RemoveAll(fetchDir)
	if err != nil {
		return nil, err
	}
	return &Materialized{Files: files, TempDir: tmpDir}, nil
}

// fetch blocks the calling goroutine (never a lock) until the transfer
// handle reports a terminal state.
func (p *Processor) fetch(ctx context.Context, rawURL string, headers map[string]string) (string, string, error) {
	dir, err := os.MkdirTemp(p.tempRoot, "foilbox-fetch-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create fetch dir: %w", err)
	}

	handle := p.queue.Enqueue(rawURL, dir, headers)
	prog, err := handle.Wait(ctx)
	if err != nil {
		// The request's context ended; stop the transfer too.
		handle.Cancel()
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("fetch interrupted: %w", err)
	}

	switch prog.Status {
	case download.StatusCompleted:
		return prog.FilePath, dir, nil
	case download.StatusCancelled:
		os.RemoveAll(dir)
		return "", "", download.ErrInterrupted
	default:
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("fetch failed: %s", prog.Error)
	}
}

// listRegularFiles recursively enumerates regular files under root.
func listRegularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", root, err)
	}
	return files, nil
}

// ImportFiles moves materialized files into the library root. Files that
// came from an extraction keep their path relative to the temp dir, so
// archive structure is respected; direct downloads keep just the basename.
// Per-file failures do not retract files already moved.
func ImportFiles(m *Materialized, libraryRoot string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for _, f := range m.Files {
		rel := filepath.Base(f)
		if m.TempDir != "" {
			if r, err := filepath.Rel(m.TempDir, f); err == nil && !strings.HasPrefix(r, "..") {
				rel = r
			}
		}

		dest := filepath.Join(libraryRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			errs = append(errs, fmt.Errorf("failed to create directory for %s: %w", rel, err))
			continue
		}

		if err := MovePath(f, dest); err != nil {
			logger.Error("failed to import file", "path", f, "dest", dest, "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("imported file", "dest", dest)
	}

	return errors.Join(errs...)
}
