package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/offpost/mailsync/internal/models"
)

// FolderStatusUpdate describes what UpsertFolderStatus changes besides
// making sure the row exists.
type FolderStatusUpdate struct {
	// ThreadID, when set, (re)binds the folder to a thread.
	ThreadID *string
	// MarkChecked advances last_checked_at to now and clears a pending
	// requested_update_time that is not newer than CheckStartedAt.
	MarkChecked    bool
	CheckStartedAt time.Time
	// RequestUpdate sets requested_update_time to now.
	RequestUpdate bool
}

// UpsertFolderStatus creates the status row for folder if missing and applies update.
func UpsertFolderStatus(ctx context.Context, q Querier, folder string, update FolderStatusUpdate) error {
	now := time.Now().UTC()

	var lastChecked, requested *time.Time
	if update.MarkChecked {
		lastChecked = &now
	}
	if update.RequestUpdate {
		requested = &now
	}
	clearBefore := update.CheckStartedAt
	if clearBefore.IsZero() {
		clearBefore = now
	}

	_, err := q.Exec(ctx, `
		INSERT INTO imap_folder_status (folder_name, thread_id, last_checked_at, requested_update_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (folder_name) DO UPDATE SET
			thread_id = COALESCE(EXCLUDED.thread_id, imap_folder_status.thread_id),
			last_checked_at = COALESCE(EXCLUDED.last_checked_at, imap_folder_status.last_checked_at),
			requested_update_time = CASE
				WHEN EXCLUDED.requested_update_time IS NOT NULL THEN EXCLUDED.requested_update_time
				WHEN $5 AND imap_folder_status.requested_update_time <= $6 THEN NULL
				ELSE imap_folder_status.requested_update_time
			END
	`, folder, update.ThreadID, lastChecked, requested, update.MarkChecked, clearBefore)
	if err != nil {
		return fmt.Errorf("failed to upsert folder status: %w", err)
	}

	return nil
}

// RequestFolderUpdate marks folder as needing a receive run soon.
func RequestFolderUpdate(ctx context.Context, q Querier, folder string) error {
	return UpsertFolderStatus(ctx, q, folder, FolderStatusUpdate{RequestUpdate: true})
}

// MarkFolderAttempted records that a receive run on folder started at.
// Unlike last_checked_at it also moves on failed runs, so a folder that
// keeps failing falls behind the others.
func MarkFolderAttempted(ctx context.Context, q Querier, folder string, at time.Time) error {
	_, err := q.Exec(ctx, `UPDATE imap_folder_status SET last_attempted_at = $2 WHERE folder_name = $1`, folder, at)
	if err != nil {
		return fmt.Errorf("failed to mark folder attempted: %w", err)
	}
	return nil
}

// RenameFolderStatus moves the status row of oldName to newName.
// A missing row is not an error.
func RenameFolderStatus(ctx context.Context, q Querier, oldName, newName string) error {
	_, err := q.Exec(ctx, `
		UPDATE imap_folder_status SET folder_name = $2
		WHERE folder_name = $1
		  AND NOT EXISTS (SELECT 1 FROM imap_folder_status WHERE folder_name = $2)
	`, oldName, newName)
	if err != nil {
		return fmt.Errorf("failed to rename folder status: %w", err)
	}
	return nil
}

const folderStatusColumns = `s.folder_name, s.thread_id, s.last_checked_at, s.last_attempted_at, s.requested_update_time, s.created_at`

func scanFolderStatus(row pgx.Row) (*models.FolderSyncStatus, error) {
	var status models.FolderSyncStatus
	if err := row.Scan(
		&status.FolderName,
		&status.ThreadID,
		&status.LastCheckedAt,
		&status.LastAttemptedAt,
		&status.RequestedUpdateTime,
		&status.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetFolderStatus returns nil without error when the folder has no row.
func GetFolderStatus(ctx context.Context, q Querier, folder string) (*models.FolderSyncStatus, error) {
	status, err := scanFolderStatus(q.QueryRow(ctx, `
		SELECT `+folderStatusColumns+` FROM imap_folder_status s WHERE s.folder_name = $1
	`, folder))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder status: %w", err)
	}
	return status, nil
}

// NextFolderToCheck picks the single folder the receiver should process:
// one with a pending update request not yet attempted first (oldest request
// wins), otherwise the one checked or attempted longest ago, never-touched
// folders first. Only folders of non-archived threads outside archivePrefix
// qualify. Returns nil when there is nothing to do.
func NextFolderToCheck(ctx context.Context, q Querier, archivePrefix string) (*models.FolderSyncStatus, error) {
	status, err := scanFolderStatus(q.QueryRow(ctx, `
		SELECT `+folderStatusColumns+`
		FROM imap_folder_status s
		JOIN threads t ON t.id = s.thread_id
		WHERE t.archived = FALSE
		  AND NOT starts_with(s.folder_name, $1)
		ORDER BY (s.requested_update_time IS NULL
		          OR COALESCE(s.last_attempted_at >= s.requested_update_time, FALSE)),
		         s.requested_update_time,
		         GREATEST(s.last_checked_at, s.last_attempted_at) NULLS FIRST,
		         s.folder_name
		LIMIT 1
	`, archivePrefix))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next folder: %w", err)
	}
	return status, nil
}

func ListFolderStatuses(ctx context.Context, q Querier) ([]*models.FolderSyncStatus, error) {
	rows, err := q.Query(ctx, `SELECT `+folderStatusColumns+` FROM imap_folder_status s ORDER BY s.folder_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.FolderSyncStatus
	for rows.Next() {
		status, err := scanFolderStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder status: %w", err)
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}
