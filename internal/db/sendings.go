package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/offpost/mailsync/internal/models"
)

var (
	// ErrSendingNotFound is returned when a queued sending cannot be found.
	ErrSendingNotFound = errors.New("sending not found")
	// ErrInvalidTransition is returned for a send status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid sending status transition")
)

const sendingColumns = `id, thread_id, status, email_to, email_from, email_from_name, email_subject, email_body,
	smtp_response, smtp_debug, error_message, created_at, updated_at`

func scanSending(row pgx.Row) (*models.OutboundSendRequest, error) {
	var s models.OutboundSendRequest
	err := row.Scan(
		&s.ID, &s.ThreadID, &s.Status, &s.EmailTo, &s.EmailFrom, &s.EmailFromName, &s.EmailSubject, &s.EmailBody,
		&s.SMTPResponse, &s.SMTPDebug, &s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSending inserts req in STAGING and fills in ID and timestamps.
func CreateSending(ctx context.Context, q Querier, req *models.OutboundSendRequest) error {
	req.Status = models.SendingStatusStaging
	err := q.QueryRow(ctx, `
		INSERT INTO thread_email_sendings (thread_id, status, email_to, email_from, email_from_name, email_subject, email_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, req.ThreadID, req.Status, req.EmailTo, req.EmailFrom, req.EmailFromName, req.EmailSubject, req.EmailBody).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sending: %w", err)
	}
	return nil
}

func GetSending(ctx context.Context, q Querier, id string) (*models.OutboundSendRequest, error) {
	s, err := scanSending(q.QueryRow(ctx, `SELECT `+sendingColumns+` FROM thread_email_sendings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sending: %w", err)
	}
	return s, nil
}

func ListSendings(ctx context.Context, q Querier, threadID string) ([]*models.OutboundSendRequest, error) {
	rows, err := q.Query(ctx, `
		SELECT `+sendingColumns+` FROM thread_email_sendings
		WHERE $1 = '' OR thread_id::text = $1
		ORDER BY created_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sendings: %w", err)
	}
	defer rows.Close()

	var sendings []*models.OutboundSendRequest
	for rows.Next() {
		s, err := scanSending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sending: %w", err)
		}
		sendings = append(sendings, s)
	}
	return sendings, rows.Err()
}

// ClaimNextSending locks the oldest READY_FOR_SENDING row, skipping rows
// locked by a concurrent sender. Returns nil when the queue is empty.
func ClaimNextSending(ctx context.Context, tx pgx.Tx) (*models.OutboundSendRequest, error) {
	s, err := scanSending(tx.QueryRow(ctx, `
		SELECT `+sendingColumns+` FROM thread_email_sendings
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, models.SendingStatusReadyForSending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim sending: %w", err)
	}
	return s, nil
}

// SendingUpdate carries the columns written along with a status change.
type SendingUpdate struct {
	SMTPResponse string
	SMTPDebug    string
	ErrorMessage string
}

// TransitionSending moves the sending from -> to. The row must currently be
// in from, and the edge must be legal.
func TransitionSending(ctx context.Context, q Querier, id string, from, to models.SendingStatus, update SendingUpdate) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tag, err := q.Exec(ctx, `
		UPDATE thread_email_sendings
		SET status = $3, smtp_response = $4, smtp_debug = $5, error_message = $6, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to, update.SMTPResponse, update.SMTPDebug, update.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update sending status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := GetSending(ctx, q, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: sending %s is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}
