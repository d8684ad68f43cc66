package importer

import (
	"context"
	"fmt"
	"net/url"
)

// URLImporter imports from an explicit (possibly percent-encoded) URL.
type URLImporter struct{}

func (URLImporter) Name() string        { return "url" }
func (URLImporter) DisplayName() string { return "Direct URL" }
func (URLImporter) Description() string {
	return "Downloads a file or archive from an HTTP(S) URL"
}
func (URLImporter) SupportsID() bool { return true }

// Import decodes the id into a URL and plans a remote auto-detect fetch:
// whether the download is extracted depends on the fetched file's extension.
func (URLImporter) Import(_ context.Context, req Request) (*Source, error) {
	decoded, err := url.QueryUnescape(req.ID)
	if err != nil {
		decoded = req.ID
	}

	u, err := url.Parse(decoded)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("not a valid http(s) url: %q", req.ID)
	}

	return &Source{
		Kind:    KindRemoteAuto,
		URL:     u.String(),
		Headers: req.Headers,
	}, nil
}
