package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foilbox/foilbox/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return NewManager(newTestClient(testLogger()), st, testLogger()), st
}

// TestManagerEnqueueCompletes enqueues a transfer, waits for it, and checks
// both the terminal snapshot and the durable row
func TestManagerEnqueueCompletes(t *testing.T) {
	testContent := []byte("queued file content")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(testContent)
	}))
	defer server.Close()

	m, st := newTestManager(t)
	destPath := filepath.Join(t.TempDir(), "queued.bin")

	h := m.Enqueue(server.URL, destPath, nil)
	if h.ID == "" {
		t.Fatal("expected a non-empty id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (error %q)", p.Status, p.Error)
	}
	if p.Downloaded != int64(len(testContent)) {
		t.Errorf("expected %d bytes, got %d", len(testContent), p.Downloaded)
	}

	fi, err := os.Stat(destPath)
	if err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
	if fi.Size() != p.Downloaded {
		t.Errorf("file size %d does not match reported %d", fi.Size(), p.Downloaded)
	}

	row, err := st.GetDownload(h.ID)
	if err != nil {
		t.Fatalf("expected durable row: %v", err)
	}
	if row.Status != string(StatusCompleted) {
		t.Errorf("expected durable status completed, got %s", row.Status)
	}
	if row.Downloaded != int64(len(testContent)) {
		t.Errorf("expected durable downloaded %d, got %d", len(testContent), row.Downloaded)
	}
}

// TestManagerCancel cancels an in-flight transfer and verifies the terminal
// state, the absence of the partial file, and the no-op on unknown ids
func TestManagerCancel(t *testing.T) {
	started := make(chan struct{})
	var once bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 200; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
				_, _ = w.Write([]byte("chunk"))
				w.(http.Flusher).Flush()
				if !once {
					once = true
					close(started)
				}
			}
		}
	}))
	defer server.Close()

	m, st := newTestManager(t)
	destPath := filepath.Join(t.TempDir(), "cancelled.bin")

	h := m.Enqueue(server.URL, destPath, nil)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer never started")
	}

	if !m.Cancel(h.ID) {
		t.Fatal("expected cancel to find the active entry")
	}
	if m.Cancel(h.ID) {
		t.Fatal("expected second cancel to be a no-op")
	}
	if m.Cancel("no-such-id") {
		t.Fatal("expected cancel of unknown id to be a no-op")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if p.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", p.Status)
	}

	row, err := st.GetDownload(h.ID)
	if err != nil {
		t.Fatalf("expected durable row: %v", err)
	}
	if row.Status != string(StatusCancelled) {
		t.Errorf("expected durable status cancelled, got %s", row.Status)
	}

	// The partial file is deleted by the transfer goroutine after the
	// cancellation propagates.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected partial file to be deleted after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestManagerFailedTransfer verifies an HTTP error produces a failed terminal
// snapshot with the error message mirrored to the durable row
func TestManagerFailedTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	m, st := newTestManager(t)

	h := m.Enqueue(server.URL, filepath.Join(t.TempDir(), "failed.bin"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if p.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", p.Status)
	}
	if p.Error == "" {
		t.Error("expected a failure message")
	}

	row, err := st.GetDownload(h.ID)
	if err != nil {
		t.Fatalf("expected durable row: %v", err)
	}
	if row.Status != string(StatusFailed) || row.Error == "" {
		t.Errorf("durable row not mirrored: status=%s error=%q", row.Status, row.Error)
	}
}

// TestManagerStartDetached verifies Start returns immediately and the
// transfer still completes
func TestManagerStartDetached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("detached"))
	}))
	defer server.Close()

	m, _ := newTestManager(t)

	id := m.Start(server.URL, filepath.Join(t.TempDir(), "detached.bin"), nil)
	if id == "" {
		t.Fatal("expected a non-empty id")
	}

	h, ok := m.Get(id)
	if !ok {
		t.Fatal("expected handle for started transfer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if p.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", p.Status)
	}
}

// TestManagerListAndStats verifies live entries and durable history merge
func TestManagerListAndStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("listed"))
	}))
	defer server.Close()

	m, st := newTestManager(t)
	dir := t.TempDir()

	h1 := m.Enqueue(server.URL, filepath.Join(dir, "a.bin"), nil)
	h2 := m.Enqueue(server.URL, filepath.Join(dir, "b.bin"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if _, err := h2.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	// A historical row with no live counterpart.
	if err := st.InsertDownload(&store.DownloadRow{
		ID: "historic", URL: "http://example.com/old.nsp", DestPath: "/tmp/old.nsp",
		Status: string(StatusFailed), Error: "gone", CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatal("expected newest-first ordering")
		}
	}

	stats := m.Stats()
	if stats[StatusCompleted] != 2 {
		t.Errorf("expected 2 completed, got %d", stats[StatusCompleted])
	}
	if stats[StatusFailed] != 1 {
		t.Errorf("expected 1 failed, got %d", stats[StatusFailed])
	}
}

// TestManagerCleanup verifies only finished entries are removed and a second
// pass removes nothing
func TestManagerCleanup(t *testing.T) {
	done := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("done"))
	}))
	defer done.Close()

	slowRelease := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-slowRelease:
		}
	}))
	defer slow.Close()
	defer close(slowRelease)

	m, _ := newTestManager(t)
	dir := t.TempDir()

	finished := m.Enqueue(done.URL, filepath.Join(dir, "done.bin"), nil)
	active := m.Enqueue(slow.URL, filepath.Join(dir, "slow.bin"), nil)
	defer active.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := finished.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	if removed := m.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}
	if removed := m.Cleanup(); removed != 0 {
		t.Fatalf("expected cleanup to be idempotent, got %d", removed)
	}

	if _, ok := m.Get(finished.ID); ok {
		t.Error("expected finished entry to be gone")
	}
	if _, ok := m.Get(active.ID); !ok {
		t.Error("expected active entry to survive cleanup")
	}
}

// TestManagerSyncWithStore verifies rows left by a previous process are
// counted as orphans and never resumed
func TestManagerSyncWithStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("sync"))
	}))
	defer server.Close()

	m, st := newTestManager(t)

	// Simulate a row from a crashed run.
	if err := st.InsertDownload(&store.DownloadRow{
		ID: "orphan", URL: "http://example.com/lost.nsp", DestPath: "/tmp/lost.nsp",
		Status: string(StatusDownloading), Downloaded: 1234, CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	h := m.Enqueue(server.URL, filepath.Join(t.TempDir(), "live.bin"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	updated, orphaned, err := m.SyncWithStore()
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("expected 1 updated row, got %d", updated)
	}
	if orphaned != 1 {
		t.Errorf("expected 1 orphaned row, got %d", orphaned)
	}

	// The orphan is left exactly as it was.
	row, err := st.GetDownload("orphan")
	if err != nil {
		t.Fatalf("expected orphan row to survive: %v", err)
	}
	if row.Status != string(StatusDownloading) || row.Downloaded != 1234 {
		t.Errorf("orphan row was modified: %+v", row)
	}
	if _, ok := m.Get("orphan"); ok {
		t.Error("orphan must not become a live entry")
	}
}
