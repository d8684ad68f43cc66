// Package archive extracts package archives into temporary directories,
// preserving their internal directory structure.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// Exts is the set of archive extensions recognized by auto-detection.
var Exts = map[string]bool{
	".zip": true,
	".rar": true,
	".7z":  true,
	".tar": true,
	".gz":  true,
	".bz2": true,
	".xz":  true,
}

// IsArchive reports whether path has a recognized archive extension.
func IsArchive(path string) bool {
	return Exts[strings.ToLower(filepath.Ext(path))]
}

// Extractor streams archives entry-by-entry into fresh temp directories.
type Extractor struct {
	tempRoot string
	logger   *slog.Logger
}

// NewExtractor creates an extractor that allocates temp dirs under tempRoot.
// An empty tempRoot uses the system default.
func NewExtractor(tempRoot string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{tempRoot: tempRoot, logger: logger}
}

// Extract unpacks archivePath into a new temp directory and returns the
// extracted regular files plus the temp dir. The caller owns the temp dir
// and must remove it once the files have been relocated.
func (e *Extractor) Extract(ctx context.Context, archivePath string) ([]string, string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	tmpDir, err := os.MkdirTemp(e.tempRoot, "foilbox-extract-")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	var files []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}

		target := filepath.Join(tmpDir, filepath.FromSlash(path))

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		if err := e.writeEntry(fsys, path, target); err != nil {
			return err
		}
		files = append(files, target)
		return nil
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, "", fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	e.logger.Info("archive extracted", "archive", archivePath, "files", len(files), "dir", tmpDir)
	return files, tmpDir, nil
}

// writeEntry copies one archive entry to the target path.
func (e *Extractor) writeEntry(fsys fs.FS, path, target string) error {
	src, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", path, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy entry %s: %w", path, err)
	}
	return nil
}
