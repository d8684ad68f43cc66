package store

import "time"

// NspMetadata is one scanned package file in the library.
// Path is the absolute file path and uniquely identifies a row.
type NspMetadata struct {
	Path       string
	TitleID    string // 16 hex characters
	Version    int    // numeric version, e.g. 65536 for "v65536"
	TitleName  string
	DownloadID string // derived: {title_id}_v{version}.{extension}
	Size       int64
}

// DownloadRow is the durable mirror of a queue entry. Request headers are
// deliberately never persisted.
type DownloadRow struct {
	ID         string
	URL        string
	DestPath   string
	FilePath   string // resolved final path, once known
	Status     string
	TotalSize  int64
	Downloaded int64
	Error      string
	CreatedAt  time.Time
}
