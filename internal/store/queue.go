package store

import (
	"database/sql"
	"fmt"
)

// InsertDownload inserts a new download queue row
func (s *Store) InsertDownload(row *DownloadRow) error {
	const query = `
		INSERT INTO download_queue (id, url, dest_path, file_path, status, total_size, downloaded, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		row.ID, row.URL, row.DestPath, row.FilePath, row.Status,
		row.TotalSize, row.Downloaded, row.Error, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert download row: %w", err)
	}
	return nil
}

// UpdateDownloadProgress updates the progress snapshot of a download row
func (s *Store) UpdateDownloadProgress(row *DownloadRow) error {
	const query = `
		UPDATE download_queue SET
			file_path = ?, status = ?, total_size = ?, downloaded = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, row.FilePath, row.Status, row.TotalSize, row.Downloaded, row.Error, row.ID)
	if err != nil {
		return fmt.Errorf("failed to update download row: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("download row not found: %s", row.ID)
	}

	return nil
}

// GetDownload retrieves a download row by id
func (s *Store) GetDownload(id string) (*DownloadRow, error) {
	const query = `
		SELECT id, url, dest_path, file_path, status, total_size, downloaded, error_message, created_at
		FROM download_queue WHERE id = ?
	`

	row := &DownloadRow{}
	var filePath, errMsg sql.NullString
	err := s.db.QueryRow(query, id).Scan(
		&row.ID, &row.URL, &row.DestPath, &filePath, &row.Status,
		&row.TotalSize, &row.Downloaded, &errMsg, &row.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query download row %s: %w", id, err)
	}
	row.FilePath = filePath.String
	row.Error = errMsg.String

	return row, nil
}

// ListDownloads retrieves all download rows, newest first. UUIDv7 ids are
// time-sortable but created_at keeps the ordering explicit.
func (s *Store) ListDownloads() ([]DownloadRow, error) {
	const query = `
		SELECT id, url, dest_path, file_path, status, total_size, downloaded, error_message, created_at
		FROM download_queue ORDER BY created_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query download rows: %w", err)
	}
	defer rows.Close()

	var result []DownloadRow
	for rows.Next() {
		row := DownloadRow{}
		var filePath, errMsg sql.NullString
		err := rows.Scan(
			&row.ID, &row.URL, &row.DestPath, &filePath, &row.Status,
			&row.TotalSize, &row.Downloaded, &errMsg, &row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download row: %w", err)
		}
		row.FilePath = filePath.String
		row.Error = errMsg.String
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating download rows: %w", err)
	}

	return result, nil
}

// PruneDownloads deletes rows whose status is terminal and returns the count
func (s *Store) PruneDownloads() (int, error) {
	result, err := s.db.Exec(
		"DELETE FROM download_queue WHERE status IN ('completed', 'cancelled', 'failed')",
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune download rows: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(affected), nil
}
