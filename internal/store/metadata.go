package store

import (
	"database/sql"
	"fmt"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = sql.ErrNoRows

// UpsertMetadata inserts or replaces the metadata row for a path
func (s *Store) UpsertMetadata(m *NspMetadata) error {
	const query = `
		INSERT INTO nsp_metadata (path, title_id, version, title_name, download_id, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			title_id = excluded.title_id,
			version = excluded.version,
			title_name = excluded.title_name,
			download_id = excluded.download_id,
			size = excluded.size,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.Exec(query, m.Path, m.TitleID, m.Version, m.TitleName, m.DownloadID, m.Size); err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", m.Path, err)
	}
	return nil
}

// GetMetadata retrieves the metadata row for a path
func (s *Store) GetMetadata(path string) (*NspMetadata, error) {
	const query = `
		SELECT path, title_id, version, title_name, download_id, size
		FROM nsp_metadata WHERE path = ?
	`

	m := &NspMetadata{}
	var name sql.NullString
	err := s.db.QueryRow(query, path).Scan(&m.Path, &m.TitleID, &m.Version, &name, &m.DownloadID, &m.Size)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query metadata for %s: %w", path, err)
	}
	m.TitleName = name.String

	return m, nil
}

// GetMetadataByDownloadID retrieves the metadata row for a download id
func (s *Store) GetMetadataByDownloadID(downloadID string) (*NspMetadata, error) {
	const query = `
		SELECT path, title_id, version, title_name, download_id, size
		FROM nsp_metadata WHERE download_id = ?
	`

	m := &NspMetadata{}
	var name sql.NullString
	err := s.db.QueryRow(query, downloadID).Scan(&m.Path, &m.TitleID, &m.Version, &name, &m.DownloadID, &m.Size)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query metadata for download id %s: %w", downloadID, err)
	}
	m.TitleName = name.String

	return m, nil
}

// ListMetadata retrieves all metadata rows ordered by path
func (s *Store) ListMetadata() ([]NspMetadata, error) {
	const query = `
		SELECT path, title_id, version, title_name, download_id, size
		FROM nsp_metadata ORDER BY path
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var records []NspMetadata
	for rows.Next() {
		m := NspMetadata{}
		var name sql.NullString
		if err := rows.Scan(&m.Path, &m.TitleID, &m.Version, &name, &m.DownloadID, &m.Size); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		m.TitleName = name.String
		records = append(records, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metadata rows: %w", err)
	}

	return records, nil
}

// ListMetadataPaths retrieves all known paths
func (s *Store) ListMetadataPaths() ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM nsp_metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating paths: %w", err)
	}

	return paths, nil
}

// DeleteMetadata removes the metadata row for a path. Deleting an unknown
// path is a no-op.
func (s *Store) DeleteMetadata(path string) error {
	if _, err := s.db.Exec("DELETE FROM nsp_metadata WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", path, err)
	}
	return nil
}

// CountMetadata returns the number of metadata rows
func (s *Store) CountMetadata() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM nsp_metadata").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count metadata: %w", err)
	}
	return n, nil
}
