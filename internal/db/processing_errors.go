package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offpost/mailsync/internal/models"
)

// ErrUnmatchedNotFound is returned when an unmatched record does not exist
// or is already resolved.
var ErrUnmatchedNotFound = errors.New("unmatched message record not found")

const unmatchedColumns = `id, email_identifier, email_subject, email_addresses, folder_name, error_type, error_message,
	suggested_thread_id, resolved, resolved_at, resolution_note, created_at, updated_at`

func scanUnmatched(row pgx.Row) (*models.UnmatchedMessageRecord, error) {
	var r models.UnmatchedMessageRecord
	err := row.Scan(
		&r.ID, &r.NaturalID, &r.Subject, &r.Addresses, &r.Folder, &r.ErrorType, &r.ErrorMessage,
		&r.SuggestedThreadID, &r.Resolved, &r.ResolvedAt, &r.ResolutionNote, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordOrUpdateUnmatched upserts the open record for rec.NaturalID. Resolved
// records are left alone. rec.ID is filled in when a row was written.
func RecordOrUpdateUnmatched(ctx context.Context, q Querier, rec *models.UnmatchedMessageRecord) error {
	if rec.Addresses == nil {
		rec.Addresses = []string{}
	}

	err := q.QueryRow(ctx, `
		INSERT INTO thread_email_processing_errors (
			email_identifier, email_subject, email_addresses, folder_name, error_type, error_message, suggested_thread_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_identifier) DO UPDATE SET
			email_subject = EXCLUDED.email_subject,
			email_addresses = EXCLUDED.email_addresses,
			folder_name = EXCLUDED.folder_name,
			error_type = EXCLUDED.error_type,
			error_message = EXCLUDED.error_message,
			suggested_thread_id = EXCLUDED.suggested_thread_id,
			updated_at = now()
		WHERE thread_email_processing_errors.resolved = FALSE
		RETURNING id
	`, rec.NaturalID, rec.Subject, rec.Addresses, rec.Folder, rec.ErrorType, rec.ErrorMessage, rec.SuggestedThreadID).Scan(&rec.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record unmatched message: %w", err)
	}
	return nil
}

func GetUnmatched(ctx context.Context, q Querier, id int64) (*models.UnmatchedMessageRecord, error) {
	rec, err := scanUnmatched(q.QueryRow(ctx, `SELECT `+unmatchedColumns+` FROM thread_email_processing_errors WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnmatchedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unmatched message: %w", err)
	}
	return rec, nil
}

// ListUnmatched returns records oldest first.
func ListUnmatched(ctx context.Context, q Querier, includeResolved bool) ([]*models.UnmatchedMessageRecord, error) {
	rows, err := q.Query(ctx, `
		SELECT `+unmatchedColumns+`
		FROM thread_email_processing_errors
		WHERE $1 OR resolved = FALSE
		ORDER BY created_at, id
	`, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmatched messages: %w", err)
	}
	defer rows.Close()

	var records []*models.UnmatchedMessageRecord
	for rows.Next() {
		rec, err := scanUnmatched(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unmatched message: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ResolveUnmatched pins the record's message to threadID with a manual
// override and marks the record resolved, in one transaction.
func ResolveUnmatched(ctx context.Context, pool *pgxpool.Pool, id int64, threadID, note string) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var naturalID string
		err := tx.QueryRow(ctx, `
			SELECT email_identifier FROM thread_email_processing_errors
			WHERE id = $1 AND resolved = FALSE
			FOR UPDATE
		`, id).Scan(&naturalID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnmatchedNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock unmatched message: %w", err)
		}

		if _, err := GetThreadByID(ctx, tx, threadID); err != nil {
			return err
		}

		if note == "" {
			note = "Resolved by operator"
		}
		if err := SaveOverride(ctx, tx, &models.ManualRoutingOverride{
			NaturalID:   naturalID,
			ThreadID:    threadID,
			Description: note,
		}); err != nil {
			return err
		}

		return markResolved(ctx, tx, id, note)
	})
}

// DismissUnmatched marks the record resolved without routing anything.
func DismissUnmatched(ctx context.Context, q Querier, id int64, note string) error {
	if note == "" {
		note = "Dismissed"
	}
	return markResolved(ctx, q, id, note)
}

func markResolved(ctx context.Context, q Querier, id int64, note string) error {
	tag, err := q.Exec(ctx, `
		UPDATE thread_email_processing_errors
		SET resolved = TRUE, resolved_at = now(), resolution_note = $2, updated_at = now()
		WHERE id = $1 AND resolved = FALSE
	`, id, note)
	if err != nil {
		return fmt.Errorf("failed to resolve unmatched message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnmatchedNotFound
	}
	return nil
}
