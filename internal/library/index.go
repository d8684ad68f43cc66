package library

import (
	"fmt"

	"github.com/foilbox/foilbox/internal/store"
)

// FileEntry is one served file in the index.
type FileEntry struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// TitleMeta is the title-metadata side-map entry keyed by title id.
type TitleMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version"`
}

// Index is the externally-served file listing structure.
type Index struct {
	Files   []FileEntry          `json:"files"`
	TitleDB map[string]TitleMeta `json:"titledb"`
}

// BuildIndex projects the current metadata store contents into the served
// listing. It is a pure read; no store mutation.
func BuildIndex(st *store.Store) (*Index, error) {
	rows, err := st.ListMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	idx := &Index{
		Files:   make([]FileEntry, 0, len(rows)),
		TitleDB: make(map[string]TitleMeta),
	}

	for _, row := range rows {
		idx.Files = append(idx.Files, FileEntry{
			URL:  "/api/get_game/" + row.DownloadID,
			Size: row.Size,
		})

		if existing, ok := idx.TitleDB[row.TitleID]; !ok || row.Version > existing.Version {
			idx.TitleDB[row.TitleID] = TitleMeta{
				ID:      row.TitleID,
				Name:    row.TitleName,
				Version: row.Version,
			}
		}
	}

	return idx, nil
}
