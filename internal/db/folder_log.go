package db

import (
	"context"
	"fmt"

	"github.com/offpost/mailsync/internal/models"
)

// AppendLog inserts a new log entry for folder and returns its ID.
func AppendLog(ctx context.Context, q Querier, folder string, status models.LogStatus, message string) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO imap_folder_log (folder_name, status, message)
		VALUES ($1, $2, $3)
		RETURNING id
	`, folder, status, message).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append folder log: %w", err)
	}
	return id, nil
}

// UpdateLog finishes a log entry started with AppendLog.
func UpdateLog(ctx context.Context, q Querier, id int64, status models.LogStatus, message, debugOutput string) error {
	tag, err := q.Exec(ctx, `
		UPDATE imap_folder_log
		SET status = $2, message = $3, debug_output = $4, updated_at = now()
		WHERE id = $1
	`, id, status, message, debugOutput)
	if err != nil {
		return fmt.Errorf("failed to update folder log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("folder log %d not found", id)
	}
	return nil
}

// ListLogs returns the newest entries first. An empty folder lists all folders.
func ListLogs(ctx context.Context, q Querier, folder string, limit int) ([]*models.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.Query(ctx, `
		SELECT id, folder_name, status, message, debug_output, created_at, updated_at
		FROM imap_folder_log
		WHERE $1 = '' OR folder_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, folder, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		var e models.SyncLogEntry
		if err := rows.Scan(&e.ID, &e.FolderName, &e.Status, &e.Message, &e.DebugOutput, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
