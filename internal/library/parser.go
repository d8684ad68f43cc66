// Package library keeps the metadata store consistent with the games
// directory and projects it into the served index.
package library

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ContentMeta is one content-metadata record extracted from a package
// container: the CNMT-derived identity.
type ContentMeta struct {
	TitleID string // 16 hex characters
	Version int
	Name    string
}

// MetaParser extracts content metadata from a package file. The real
// binary-container parser is an external collaborator; anything satisfying
// this interface can be injected.
type MetaParser interface {
	Parse(path string) ([]ContentMeta, error)
}

var (
	titleTagRe   = regexp.MustCompile(`\[([0-9A-Fa-f]{16})\]`)
	versionTagRe = regexp.MustCompile(`\[v([0-9]+)\]`)
)

// FilenameParser derives identity from bracket-tagged filenames of the form
// "Some Game [0100005501E68000][v65536].nsp". It is the default parser when
// no binary-container parser is wired in.
type FilenameParser struct{}

// Parse extracts the title id and version tags from the file name.
func (FilenameParser) Parse(path string) ([]ContentMeta, error) {
	base := filepath.Base(path)

	tid := titleTagRe.FindStringSubmatch(base)
	if tid == nil {
		return nil, fmt.Errorf("no title id tag in filename %q", base)
	}

	meta := ContentMeta{TitleID: strings.ToUpper(tid[1])}

	if v := versionTagRe.FindStringSubmatch(base); v != nil {
		meta.Version, _ = strconv.Atoi(v[1])
	}

	if idx := strings.Index(base, "["); idx > 0 {
		meta.Name = strings.TrimSpace(base[:idx])
	}

	return []ContentMeta{meta}, nil
}

// SelectContent picks the authoritative record when a file carries several:
// the one whose id ends in the base-game suffix wins, else the highest
// version.
func SelectContent(metas []ContentMeta) (ContentMeta, bool) {
	if len(metas) == 0 {
		return ContentMeta{}, false
	}

	best := metas[0]
	for _, m := range metas[1:] {
		if strings.HasSuffix(m.TitleID, "000") && !strings.HasSuffix(best.TitleID, "000") {
			best = m
			continue
		}
		if strings.HasSuffix(best.TitleID, "000") && !strings.HasSuffix(m.TitleID, "000") {
			continue
		}
		if m.Version > best.Version {
			best = m
		}
	}
	return best, true
}

// DownloadID derives the stable external locator for a scanned file. It is
// a pure function of (title id, version, extension).
func DownloadID(titleID string, version int, ext string) string {
	return fmt.Sprintf("%s_v%d.%s", titleID, version, ext)
}
