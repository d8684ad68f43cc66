package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/foilbox/foilbox/internal/store"
)

// ErrScanInFlight is returned when a rescan is requested while one is
// already running. The in-flight rescan continues uninterrupted.
var ErrScanInFlight = errors.New("rescan already running")

const (
	parseRetries    = 3
	parseRetryDelay = 500 * time.Millisecond
)

// packageExts is the fixed set of package container extensions.
var packageExts = map[string]bool{
	".nsp": true,
	".xci": true,
	".nsz": true,
	".ncz": true,
	".xcz": true,
}

// IsPackage reports whether path has a package container extension.
func IsPackage(path string) bool {
	return packageExts[strings.ToLower(filepath.Ext(path))]
}

// Report summarizes one rescan.
type Report struct {
	Scanned  int    `json:"scanned"`
	Parsed   int    `json:"parsed"`
	Skipped  int    `json:"skipped"`
	Removed  int    `json:"removed"`
	Failed   int    `json:"failed"`
	Duration string `json:"duration"`
}

// Scanner reconciles the metadata store against the games directory.
type Scanner struct {
	store  *store.Store
	parser MetaParser
	root   string
	logger *slog.Logger

	// Single-flight guard for full rescans, compare-and-swap semantics.
	scanning atomic.Bool

	// retryDelay is shortened in tests.
	retryDelay time.Duration
}

// NewScanner creates a Scanner for the given library root.
func NewScanner(st *store.Store, parser MetaParser, root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:      st,
		parser:     parser,
		root:       root,
		logger:     logger,
		retryDelay: parseRetryDelay,
	}
}

// Root returns the library root the scanner walks.
func (s *Scanner) Root() string {
	return s.root
}

// Scanning reports whether a full rescan is currently in flight.
func (s *Scanner) Scanning() bool {
	return s.scanning.Load()
}

// FullRescan walks the library tree, (re)parses package files as needed,
// and deletes metadata rows whose files no longer exist. Only one rescan
// runs at a time; a second trigger returns ErrScanInFlight. The guard is
// released unconditionally, success or failure.
func (s *Scanner) FullRescan(ctx context.Context, force bool) (*Report, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInFlight
	}
	defer s.scanning.Store(false)

	start := time.Now()
	s.logger.Info("starting rescan", "root", s.root, "force", force)

	report := &Report{}
	seen := make(map[string]bool)

	if err := s.walkDir(ctx, s.root, force, seen, report); err != nil {
		report.Duration = time.Since(start).Round(time.Millisecond).String()
		return report, err
	}

	// Rows whose path was not observed during the walk back files removed
	// while the server was not watching. Reconcile them away.
	paths, err := s.store.ListMetadataPaths()
	if err != nil {
		report.Duration = time.Since(start).Round(time.Millisecond).String()
		return report, fmt.Errorf("failed to list stored paths: %w", err)
	}
	for _, p := range paths {
		if seen[p] {
			continue
		}
		if err := s.store.DeleteMetadata(p); err != nil {
			s.logger.Warn("failed to delete stale metadata", "path", p, "error", err)
			continue
		}
		report.Removed++
	}

	report.Duration = time.Since(start).Round(time.Millisecond).String()
	s.logger.Info("rescan completed",
		"scanned", report.Scanned,
		"parsed", report.Parsed,
		"skipped", report.Skipped,
		"removed", report.Removed,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// walkDir processes one directory: files largest-first, then subdirectories.
// Hidden entries are skipped. Per-entry errors are logged, never fatal.
func (s *Scanner) walkDir(ctx context.Context, dir string, force bool, seen map[string]bool, report *Report) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("failed to read directory", "dir", dir, "error", err)
		return nil
	}

	type fileEntry struct {
		path string
		size int64
	}
	var files []fileEntry
	var subdirs []string

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		if entry.IsDir() {
			subdirs = append(subdirs, path)
			continue
		}
		if !IsPackage(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("failed to stat file", "path", path, "error", err)
			continue
		}
		files = append(files, fileEntry{path: path, size: info.Size()})
	}

	// Large files are the interesting payloads in a typical library;
	// process them first.
	sort.Slice(files, func(i, j int) bool {
		return files[i].size > files[j].size
	})

	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		seen[f.path] = true
		report.Scanned++

		parsed, err := s.scanFile(f.path, f.size, force)
		switch {
		case err != nil:
			report.Failed++
		case parsed:
			report.Parsed++
		default:
			report.Skipped++
		}
	}

	for _, sub := range subdirs {
		if err := s.walkDir(ctx, sub, force, seen, report); err != nil {
			return err
		}
	}
	return nil
}

// ScanOne performs the single-file scan used by the filesystem watch path.
// Files without a package extension are ignored.
func (s *Scanner) ScanOne(path string, force bool) error {
	if !IsPackage(path) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	_, err = s.scanFile(path, info.Size(), force)
	return err
}

// scanFile decides whether a file needs (re)parsing and upserts its
// metadata row. A parse failure is logged and skipped; no row is produced
// or updated.
func (s *Scanner) scanFile(path string, size int64, force bool) (parsed bool, err error) {
	existing, err := s.store.GetMetadata(path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("failed to load metadata row", "path", path, "error", err)
		existing = nil
	}

	// Up-to-date row, no forced rescan: nothing to do.
	if existing != nil && existing.Size == size && !force {
		return false, nil
	}

	var metas []ContentMeta
	err = s.withRetry(func() error {
		var perr error
		metas, perr = s.parser.Parse(path)
		return perr
	})
	if err != nil {
		s.logger.Warn("failed to parse package", "path", path, "error", err)
		return false, err
	}

	meta, ok := SelectContent(metas)
	if !ok {
		err := fmt.Errorf("parser returned no content records for %s", path)
		s.logger.Warn("failed to parse package", "path", path, "error", err)
		return false, err
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	// A cached display name stays stable across rescans.
	name := meta.Name
	if existing != nil && existing.TitleName != "" {
		name = existing.TitleName
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	row := &store.NspMetadata{
		Path:       path,
		TitleID:    meta.TitleID,
		Version:    meta.Version,
		TitleName:  name,
		DownloadID: DownloadID(meta.TitleID, meta.Version, ext),
		Size:       size,
	}

	err = s.withRetry(func() error {
		return s.store.UpsertMetadata(row)
	})
	if err != nil {
		s.logger.Warn("failed to store metadata", "path", path, "error", err)
		return false, err
	}

	s.logger.Debug("scanned package", "path", path, "title_id", row.TitleID, "download_id", row.DownloadID)
	return true, nil
}

// Remove deletes the metadata row for a file, used when a filesystem-remove
// event fires.
func (s *Scanner) Remove(path string) error {
	if !IsPackage(path) {
		return nil
	}
	return s.store.DeleteMetadata(path)
}

// withRetry runs fn, retrying store-level write conflicts a bounded number
// of times with a fixed delay. Any other error is returned as-is.
func (s *Scanner) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < parseRetries; attempt++ {
		err = fn()
		if err == nil || !store.IsRetryable(err) {
			return err
		}
		time.Sleep(s.retryDelay)
	}
	return err
}
