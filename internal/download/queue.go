package download

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/foilbox/foilbox/internal/store"
)

// persistInterval throttles best-effort byte-count mirroring into the
// download_queue table. Status transitions are always persisted.
const persistInterval = 500 * time.Millisecond

// Entry identifies one queued transfer.
type Entry struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Dest      string            `json:"dest"`
	Headers   map[string]string `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
}

// Snapshot is an Entry together with its live progress, as reported by List.
type Snapshot struct {
	Entry
	Progress Progress `json:"progress"`
}

// Handle is a capability over one transfer: a live read-only progress view
// plus cancellation. Any number of handles may observe the same entry.
type Handle struct {
	ID     string
	cell   *progressCell
	cancel context.CancelFunc
}

// Progress returns the latest progress snapshot.
func (h *Handle) Progress() Progress {
	return h.cell.snapshot()
}

// Cancel signals cooperative cancellation. Idempotent.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the transfer reaches a terminal state or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Progress, error) {
	for {
		ch := h.cell.changed()
		p := h.cell.snapshot()
		if p.Terminal() {
			return p, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return p, ctx.Err()
		}
	}
}

// Watch streams progress snapshots in the order produced until the terminal
// snapshot is delivered or ctx is done. The terminal snapshot is always the
// last value on the channel for a watcher that keeps receiving.
func (h *Handle) Watch(ctx context.Context) <-chan Progress {
	out := make(chan Progress, 1)
	go func() {
		defer close(out)
		for {
			ch := h.cell.changed()
			p := h.cell.snapshot()
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
			if p.Terminal() {
				return
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// entryState is the Manager's in-memory record of an active transfer.
type entryState struct {
	Entry
	cell   *progressCell
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the set of in-flight and completed transfers. The in-memory
// table is authoritative for live state; the download_queue table holds a
// best-effort durable mirror keyed by id.
type Manager struct {
	client *Client
	store  *store.Store
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entryState
}

// NewManager creates a download queue backed by the given client and store.
func NewManager(client *Client, st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:  client,
		store:   st,
		logger:  logger,
		entries: make(map[string]*entryState),
	}
}

// Enqueue registers a transfer and starts it as an independent goroutine.
// The returned handle observes progress and can cancel the transfer.
func (m *Manager) Enqueue(url, dest string, headers map[string]string) *Handle {
	id := uuid.Must(uuid.NewV7()).String()
	ctx, cancel := context.WithCancel(context.Background())

	es := &entryState{
		Entry: Entry{
			ID:        id,
			URL:       url,
			Dest:      dest,
			Headers:   headers,
			CreatedAt: time.Now(),
		},
		cell:   newProgressCell(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.entries[id] = es
	m.mu.Unlock()

	// Durable mirror is best-effort: a persistence failure is logged,
	// never fatal to the transfer.
	if err := m.store.InsertDownload(rowFromState(es, es.cell.snapshot())); err != nil {
		m.logger.Error("failed to persist queue entry", "id", id, "error", err)
	}

	m.logger.Info("download queued", "id", id, "url", url, "dest", dest)
	go m.run(ctx, es)

	return &Handle{ID: id, cell: es.cell, cancel: cancel}
}

// Start enqueues a transfer and returns its id immediately. Completion is
// observed by a detached monitor goroutine; the caller never blocks.
func (m *Manager) Start(url, dest string, headers map[string]string) string {
	h := m.Enqueue(url, dest, headers)
	go func() {
		p, err := h.Wait(context.Background())
		if err != nil {
			return
		}
		switch p.Status {
		case StatusCompleted:
			m.logger.Info("download finished", "id", h.ID,
				"path", p.FilePath, "size", humanize.Bytes(uint64(p.Downloaded)))
		case StatusCancelled:
			m.logger.Info("download cancelled", "id", h.ID)
		case StatusFailed:
			m.logger.Error("download failed", "id", h.ID, "error", p.Error)
		}
	}()
	return h.ID
}

// run drives one transfer to a terminal state.
func (m *Manager) run(ctx context.Context, es *entryState) {
	defer close(es.done)

	lastPersist := time.Time{}
	lastStatus := StatusQueued

	onProgress := func(p Progress) {
		if !es.cell.set(p) {
			return
		}
		// Persist on every status transition, throttle byte updates.
		if p.Status != lastStatus || time.Since(lastPersist) >= persistInterval {
			lastStatus = p.Status
			lastPersist = time.Now()
			m.persist(es, p)
		}
	}

	result, err := m.client.Download(ctx, Options{
		URL:        es.URL,
		Dest:       es.Dest,
		Headers:    es.Headers,
		OnProgress: onProgress,
	})

	var terminal Progress
	switch {
	case err == nil:
		terminal = Progress{
			TotalSize:  result.Size,
			Downloaded: result.Size,
			Status:     StatusCompleted,
			FilePath:   result.Path,
		}
	case isInterrupted(err, ctx):
		prev := es.cell.snapshot()
		terminal = Progress{
			TotalSize:  prev.TotalSize,
			Downloaded: prev.Downloaded,
			Status:     StatusCancelled,
		}
	default:
		prev := es.cell.snapshot()
		terminal = Progress{
			TotalSize:  prev.TotalSize,
			Downloaded: prev.Downloaded,
			Status:     StatusFailed,
			Error:      err.Error(),
			FilePath:   prev.FilePath,
		}
	}

	// Cancel() may already have installed the terminal snapshot; the cell
	// drops the late one either way.
	if es.cell.set(terminal) {
		m.persist(es, terminal)
	}
}

// Cancel cancels an active transfer by id. It reports whether an active
// entry was found; cancelling an unknown id is a no-op.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	es, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	es.cancel()

	prev := es.cell.snapshot()
	terminal := Progress{
		TotalSize:  prev.TotalSize,
		Downloaded: prev.Downloaded,
		Status:     StatusCancelled,
	}
	if es.cell.set(terminal) {
		m.persist(es, terminal)
	}

	m.logger.Info("download cancelled", "id", id)
	return true
}

// Get returns a handle to an active entry.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	es, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &Handle{ID: es.ID, cell: es.cell, cancel: es.cancel}, true
}

// List returns a snapshot of all known entries with live progress. Durable
// rows provide history; live in-memory progress overrides the mirror for
// active ids.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	live := make(map[string]Snapshot, len(m.entries))
	for id, es := range m.entries {
		live[id] = Snapshot{Entry: es.Entry, Progress: es.cell.snapshot()}
	}
	m.mu.Unlock()

	rows, err := m.store.ListDownloads()
	if err != nil {
		m.logger.Error("failed to list durable queue rows", "error", err)
	}

	result := make([]Snapshot, 0, len(rows)+len(live))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.ID] = true
		if snap, ok := live[row.ID]; ok {
			result = append(result, snap)
			continue
		}
		result = append(result, snapshotFromRow(row))
	}
	for id, snap := range live {
		if !seen[id] {
			result = append(result, snap)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Stats returns entry counts aggregated per status.
func (m *Manager) Stats() map[Status]int {
	stats := make(map[Status]int)
	for _, snap := range m.List() {
		stats[snap.Progress.Status]++
	}
	return stats
}

// Cleanup removes entries whose goroutine has finished or whose progress is
// terminal, without double counting. Paused entries are left alone. The
// durable rows persist for audit until pruned separately.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, es := range m.entries {
		finished := false
		select {
		case <-es.done:
			finished = true
		default:
		}
		if finished || es.cell.snapshot().Terminal() {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// SyncWithStore reconciles the in-memory active set against durable rows by
// id. The in-memory copy is authoritative: matching rows are refreshed from
// live progress. Rows present only in storage — typically left by a crashed
// process — are counted and logged but never resumed.
func (m *Manager) SyncWithStore() (updated, orphaned int, err error) {
	rows, err := m.store.ListDownloads()
	if err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	live := make(map[string]*entryState, len(m.entries))
	for id, es := range m.entries {
		live[id] = es
	}
	m.mu.Unlock()

	for _, row := range rows {
		es, ok := live[row.ID]
		if !ok {
			orphaned++
			continue
		}
		if uerr := m.store.UpdateDownloadProgress(rowFromState(es, es.cell.snapshot())); uerr != nil {
			m.logger.Error("failed to sync queue entry", "id", row.ID, "error", uerr)
			continue
		}
		updated++
	}

	if orphaned > 0 {
		m.logger.Warn("orphaned download rows in store, not resuming", "count", orphaned)
	}
	return updated, orphaned, nil
}

func isInterrupted(err error, ctx context.Context) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil || errors.Is(err, ErrInterrupted)
}

// persist mirrors a progress snapshot into the durable row, best-effort.
func (m *Manager) persist(es *entryState, p Progress) {
	if err := m.store.UpdateDownloadProgress(rowFromState(es, p)); err != nil {
		m.logger.Error("failed to persist progress", "id", es.ID, "error", err)
	}
}

func rowFromState(es *entryState, p Progress) *store.DownloadRow {
	return &store.DownloadRow{
		ID:         es.ID,
		URL:        es.URL,
		DestPath:   es.Dest,
		FilePath:   p.FilePath,
		Status:     string(p.Status),
		TotalSize:  p.TotalSize,
		Downloaded: p.Downloaded,
		Error:      p.Error,
		CreatedAt:  es.CreatedAt,
	}
}

func snapshotFromRow(row store.DownloadRow) Snapshot {
	return Snapshot{
		Entry: Entry{
			ID:        row.ID,
			URL:       row.URL,
			Dest:      row.DestPath,
			CreatedAt: row.CreatedAt,
		},
		Progress: Progress{
			TotalSize:  row.TotalSize,
			Downloaded: row.Downloaded,
			Status:     Status(row.Status),
			Error:      row.Error,
			FilePath:   row.FilePath,
		},
	}
}
