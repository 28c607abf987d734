package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/offpost/mailsync/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

const threadColumns = `id, entity_id, title, my_name, my_email, sending_status, labels, archived, sent_comment, created_at`

func scanThread(row pgx.Row) (*models.Thread, error) {
	var thread models.Thread
	err := row.Scan(
		&thread.ID,
		&thread.EntityID,
		&thread.Title,
		&thread.MyName,
		&thread.MyEmail,
		&thread.SendingStatus,
		&thread.Labels,
		&thread.Archived,
		&thread.SentComment,
		&thread.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// CreateThread inserts thread and fills in its ID and creation time.
func CreateThread(ctx context.Context, q Querier, thread *models.Thread) error {
	if thread.SendingStatus == "" {
		thread.SendingStatus = models.SendingStatusStaging
	}
	if thread.Labels == nil {
		thread.Labels = []string{}
	}

	err := q.QueryRow(ctx, `
		INSERT INTO threads (entity_id, title, my_name, my_email, sending_status, labels, archived, sent_comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, thread.EntityID, thread.Title, thread.MyName, thread.MyEmail, thread.SendingStatus,
		thread.Labels, thread.Archived, thread.SentComment).Scan(&thread.ID, &thread.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}

	return nil
}

// GetThreadByID returns a thread by its database ID, without emails.
func GetThreadByID(ctx context.Context, q Querier, threadID string) (*models.Thread, error) {
	thread, err := scanThread(q.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// GetThreadForUpdate locks the thread row for the rest of the transaction.
func GetThreadForUpdate(ctx context.Context, tx pgx.Tx, threadID string) (*models.Thread, error) {
	thread, err := scanThread(tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1 FOR UPDATE`, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock thread: %w", err)
	}
	return thread, nil
}

// ListThreads returns all threads ordered by creation, archived ones included.
func ListThreads(ctx context.Context, q Querier) ([]*models.Thread, error) {
	rows, err := q.Query(ctx, `SELECT `+threadColumns+` FROM threads ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// UpdateThreadSendingStatus moves a thread to next, but only from one of the
// given states. It returns ErrInvalidTransition when the row was in another state.
func UpdateThreadSendingStatus(ctx context.Context, q Querier, threadID string, next models.SendingStatus, from ...models.SendingStatus) error {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		if !s.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
		}
		allowed = append(allowed, string(s))
	}

	tag, err := q.Exec(ctx, `
		UPDATE threads SET sending_status = $2
		WHERE id = $1 AND sending_status = ANY($3)
	`, threadID, next, allowed)
	if err != nil {
		return fmt.Errorf("failed to update thread sending status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: thread %s is not in %v", ErrInvalidTransition, threadID, allowed)
	}
	return nil
}

// AddThreadLabel appends label to the thread unless it is already present.
func AddThreadLabel(ctx context.Context, q Querier, threadID, label string) error {
	_, err := q.Exec(ctx, `
		UPDATE threads SET labels = array_append(labels, $2)
		WHERE id = $1 AND NOT ($2 = ANY(labels))
	`, threadID, label)
	if err != nil {
		return fmt.Errorf("failed to add thread label: %w", err)
	}
	return nil
}

func SetThreadArchived(ctx context.Context, q Querier, threadID string, archived bool) error {
	tag, err := q.Exec(ctx, `UPDATE threads SET archived = $2 WHERE id = $1`, threadID, archived)
	if err != nil {
		return fmt.Errorf("failed to update thread archived flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}
