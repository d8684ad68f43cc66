package download

import "sync"

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// Terminal reports whether the status is final. A terminal status never
// transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Progress is a snapshot of a transfer's state, safe for JSON serialization.
// TotalSize is 0 while the total is unknown. Downloaded is monotonically
// non-decreasing within one attempt and is re-based, never reset, across a
// resumed attempt.
type Progress struct {
	TotalSize  int64  `json:"total_size"`
	Downloaded int64  `json:"downloaded"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
}

// Terminal reports whether the snapshot carries a final status.
func (p Progress) Terminal() bool {
	return p.Status.Terminal()
}

// progressCell is the single source of truth for one transfer's progress.
// Subscribers block on the notification channel, which is closed and
// replaced on every update (close-and-replace pattern). Updates arriving
// after a terminal snapshot are dropped, which enforces the terminal-once
// invariant for every observer.
type progressCell struct {
	mu     sync.Mutex
	latest Progress
	notify chan struct{}
}

func newProgressCell() *progressCell {
	return &progressCell{
		latest: Progress{Status: StatusQueued},
		notify: make(chan struct{}),
	}
}

// set installs a new snapshot and wakes all subscribers. It returns false
// if the cell already holds a terminal snapshot.
func (c *progressCell) set(p Progress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest.Terminal() {
		return false
	}

	c.latest = p
	close(c.notify)
	c.notify = make(chan struct{})
	return true
}

// snapshot returns the current progress.
func (c *progressCell) snapshot() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// changed returns a channel that is closed on the next update. Callers must
// take the channel before reading the snapshot they act on, otherwise an
// update between the two can be missed.
func (c *progressCell) changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}
