package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// packageLinkRe matches href attributes pointing at a package or archive
// file on a title page.
var packageLinkRe = regexp.MustCompile(`href="([^"]+\.(?:nsp|nsz|xci|xcz|ncz|zip|rar|7z))"`)

// TitleIDImporter resolves a 16-hex title id by scraping a configured site
// page for a package download link.
type TitleIDImporter struct {
	// PageURL is a format string with one %s verb for the title id,
	// e.g. "https://example.com/title/%s".
	PageURL string

	client *http.Client
	logger *slog.Logger
}

// NewTitleIDImporter creates a TitleIDImporter for the given page template.
func NewTitleIDImporter(pageURL string, logger *slog.Logger) *TitleIDImporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TitleIDImporter{
		PageURL: pageURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (t *TitleIDImporter) Name() string        { return "titleid" }
func (t *TitleIDImporter) DisplayName() string { return "Title ID" }
func (t *TitleIDImporter) Description() string {
	return "Resolves a title id to a download link on the configured site"
}
func (t *TitleIDImporter) SupportsID() bool { return true }

// Import fetches the title's page and extracts the first package link.
// A page without a usable link yields ErrGameNotFound, which callers must
// distinguish from transport errors.
func (t *TitleIDImporter) Import(ctx context.Context, req Request) (*Source, error) {
	if !IsTitleID(req.ID) {
		return nil, fmt.Errorf("invalid title id %q", req.ID)
	}
	if t.PageURL == "" {
		return nil, fmt.Errorf("title id importer not configured: missing site url")
	}

	pageURL := fmt.Sprintf(t.PageURL, req.ID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch title page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, req.ID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("title page returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read title page: %w", err)
	}

	match := packageLinkRe.FindSubmatch(body)
	if match == nil {
		return nil, fmt.Errorf("%w: no download link on page for %s", ErrGameNotFound, req.ID)
	}

	link, err := url.Parse(string(match[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed download link for %s", ErrGameNotFound, req.ID)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}
	resolved := base.ResolveReference(link)

	t.logger.Debug("resolved title link", "title_id", req.ID, "url", resolved.String())

	return &Source{
		Kind:    KindRemoteAuto,
		URL:     resolved.String(),
		Headers: req.Headers,
	}, nil
}
