package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrInterrupted marks a transfer stopped by cancellation. It is a distinct
// outcome from failure and is never retried.
var ErrInterrupted = errors.New("download interrupted")

const (
	defaultMaxRetries   = 3
	defaultMaxRedirects = 10
	copyBufferSize      = 128 * 1024
)

// ProgressFunc receives progress snapshots as a transfer advances.
// Snapshots are delivered in order; granularity is whatever the network
// produces, consumers must not assume a chunk size.
type ProgressFunc func(p Progress)

// Options configures a single download.
type Options struct {
	URL        string
	Dest       string // file path, or a directory to resolve a filename into
	Headers    map[string]string
	OnProgress ProgressFunc
}

// Result describes a completed download.
type Result struct {
	Path     string
	Size     int64
	Attempts int
	Resumed  bool
	Duration time.Duration
}

// HTTPError represents an HTTP error response. HTTP error statuses are
// permanent source errors and are never retried.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// Client performs HTTP downloads with manual redirect handling, byte-range
// resumption and bounded retry of transient failures.
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	userAgent    string
	maxRetries   int
	maxRedirects int

	// backoffFunc is replaced in tests to avoid real sleeps.
	backoffFunc func(attempt int) time.Duration
}

// NewClient creates a new download client with the given logger.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
			},
			// Redirects are followed manually so resume and retry keep
			// control of the effective URL.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			// No overall Timeout — body reads can take as long as needed.
			// Context cancellation still works for user-initiated cancel.
		},
		logger:       logger,
		userAgent:    "foilbox/1.0",
		maxRetries:   defaultMaxRetries,
		maxRedirects: defaultMaxRedirects,
		backoffFunc: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// SetUserAgent overrides the default User-Agent header.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// SetMaxRedirects overrides the redirect hop limit.
func (c *Client) SetMaxRedirects(n int) {
	if n > 0 {
		c.maxRedirects = n
	}
}

// Download fetches opts.URL into opts.Dest. Transient failures are retried
// with exponential backoff, resuming from the bytes already on disk via a
// Range request. Cancellation deletes the partial file and returns
// ErrInterrupted.
func (c *Client) Download(ctx context.Context, opts Options) (*Result, error) {
	startTime := time.Now()

	st := &transferState{dest: opts.Dest}
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			st.discard()
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		result, err := c.attempt(ctx, opts, st, attempt)
		if err == nil {
			result.Attempts = attempt + 1
			result.Resumed = st.resumed
			result.Duration = time.Since(startTime)
			return result, nil
		}

		if errors.Is(err, ErrInterrupted) {
			st.discard()
			return nil, err
		}

		lastErr = err
		if !isTransient(err) {
			c.logger.Error("download failed", "url", opts.URL, "attempt", attempt+1, "error", err)
			return nil, err
		}

		c.logger.Warn("download attempt failed", "url", opts.URL, "attempt", attempt+1, "error", err)

		if attempt < c.maxRetries-1 {
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{
					TotalSize:  st.totalSize,
					Downloaded: st.downloaded,
					Status:     StatusPaused,
					FilePath:   st.resolvedPath,
				})
			}
			select {
			case <-time.After(c.backoffFunc(attempt)):
			case <-ctx.Done():
				st.discard()
				return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", c.maxRetries, lastErr)
}

// transferState carries resume bookkeeping across attempts.
type transferState struct {
	dest         string
	resolvedPath string
	downloaded   int64
	totalSize    int64
	resumed      bool
}

// discard removes the partial output file, if any.
func (s *transferState) discard() {
	if s.resolvedPath != "" {
		_ = os.Remove(s.resolvedPath)
	}
}

// attempt performs one download attempt, following redirects manually.
func (c *Client) attempt(ctx context.Context, opts Options, st *transferState, attempt int) (*Result, error) {
	// Resume from whatever a previous attempt left on disk.
	resumeFrom := int64(0)
	if st.resolvedPath != "" {
		if fi, err := os.Stat(st.resolvedPath); err == nil && fi.Size() > 0 {
			resumeFrom = fi.Size()
			st.resumed = true
		}
	}

	resp, finalURL, err := c.fetch(ctx, opts, resumeFrom)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	// Server ignored the Range header: start over.
	if resumeFrom > 0 && resp.StatusCode != http.StatusPartialContent {
		resumeFrom = 0
		st.resumed = false
	}

	if st.resolvedPath == "" {
		st.resolvedPath = resolveDestPath(opts.Dest, resp, finalURL)
	}

	if total := responseTotalSize(resp, resumeFrom); total > 0 {
		st.totalSize = total
	}

	if dir := filepath.Dir(st.resolvedPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(st.resolvedPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	st.downloaded = resumeFrom

	// One snapshot before the first byte.
	if opts.OnProgress != nil {
		opts.OnProgress(Progress{
			TotalSize:  st.totalSize,
			Downloaded: st.downloaded,
			Status:     StatusDownloading,
			FilePath:   st.resolvedPath,
		})
	}

	buf := make([]byte, copyBufferSize)
	for {
		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return nil, fmt.Errorf("failed to write to file: %w", writeErr)
			}
			st.downloaded += int64(n)
			if opts.OnProgress != nil {
				opts.OnProgress(Progress{
					TotalSize:  st.totalSize,
					Downloaded: st.downloaded,
					Status:     StatusDownloading,
					FilePath:   st.resolvedPath,
				})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}

	return &Result{
		Path: st.resolvedPath,
		Size: st.downloaded,
	}, nil
}

// fetch issues the request and follows redirects manually, up to the hop
// limit. The Location header is resolved relative to the current URL; a
// redirect status without Location is a fatal error.
func (c *Client) fetch(ctx context.Context, opts Options, resumeFrom int64) (*http.Response, *url.URL, error) {
	current, err := url.Parse(opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url %q: %w", opts.URL, err)
	}

	for hop := 0; hop <= c.maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		if resumeFrom > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			return nil, nil, fmt.Errorf("http request failed: %w", err)
		}

		if !isRedirect(resp.StatusCode) {
			return resp, current, nil
		}

		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			return nil, nil, fmt.Errorf("redirect %d from %s missing Location header", resp.StatusCode, current)
		}

		next, err := url.Parse(location)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		current = current.ResolveReference(next)
		c.logger.Debug("following redirect", "status", resp.StatusCode, "to", current.String())
	}

	return nil, nil, fmt.Errorf("too many redirects (limit %d) for %s", c.maxRedirects, opts.URL)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveDestPath picks the final file path. When dest is a directory the
// filename comes from Content-Disposition, then the URL path basename, then
// a timestamped fallback.
func resolveDestPath(dest string, resp *http.Response, u *url.URL) string {
	fi, err := os.Stat(dest)
	isDir := err == nil && fi.IsDir()
	if !isDir {
		return dest
	}

	if name := filenameFromHeader(resp.Header.Get("Content-Disposition")); name != "" {
		return filepath.Join(dest, name)
	}

	if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
		return filepath.Join(dest, base)
	}

	return filepath.Join(dest, fmt.Sprintf("download_%d.bin", time.Now().Unix()))
}

// filenameFromHeader extracts a filename from a Content-Disposition header,
// handling both the quoted and the RFC 5987 percent-encoded forms.
func filenameFromHeader(header string) string {
	if header == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		// Headers like `filename*=UTF-8''x.zip` omit the disposition type.
		_, params, err = mime.ParseMediaType("attachment; " + header)
		if err != nil {
			return ""
		}
	}

	name := params["filename"]
	if name == "" {
		return ""
	}
	// Strip any path component a hostile server may have sent.
	return filepath.Base(filepath.Clean(name))
}

// responseTotalSize reconciles the total size advertised by the response
// with the resumed offset so progress reports a stable total.
func responseTotalSize(resp *http.Response, resumeFrom int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		// Format: bytes <start>-<end>/<total>
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if total, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil && total > 0 {
				return total
			}
		}
	}
	if resp.ContentLength > 0 {
		return resumeFrom + resp.ContentLength
	}
	return 0
}

// isTransient reports whether an error is worth retrying: connection
// resets and aborts, timeouts, would-block conditions, and anything that
// self-describes as a network problem.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return false
	}
	if errors.Is(err, ErrInterrupted) {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EAGAIN) {
		return true
	}

	// A body shorter than Content-Length surfaces as unexpected EOF when
	// the remote drops the connection mid-transfer.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "network") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout")
}
