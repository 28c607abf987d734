package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/offpost/mailsync/internal/models"
)

// GetEmailContentHash returns the content hash stored for (threadID, naturalID).
// found is false when the thread has no such email.
func GetEmailContentHash(ctx context.Context, q Querier, threadID, naturalID string) (hash string, found bool, err error) {
	err = q.QueryRow(ctx, `
		SELECT content_hash FROM thread_emails WHERE thread_id = $1 AND id_old = $2
	`, threadID, naturalID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up email: %w", err)
	}
	return hash, true, nil
}

// InsertEmail stores the email row and fills in its ID.
func InsertEmail(ctx context.Context, q Querier, email *models.Email) error {
	if email.StatusType == "" {
		email.StatusType = models.StatusTypeUnknown
	}

	err := q.QueryRow(ctx, `
		INSERT INTO thread_emails (
			thread_id, id_old, email_type, subject, timestamp_received, datetime_received,
			status_type, status_text, description, content, content_hash, imap_headers
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		email.ThreadID,
		email.NaturalID,
		email.Direction,
		email.Subject,
		email.TimestampReceived,
		email.DateTime,
		email.StatusType,
		email.StatusText,
		email.Description,
		email.Content,
		email.ContentHash,
		email.IMAPHeaders,
	).Scan(&email.ID)
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}

	return nil
}

// InsertAttachment stores attachment metadata and content and fills in its ID.
func InsertAttachment(ctx context.Context, q Querier, attachment *models.Attachment) error {
	if attachment.StatusType == "" {
		attachment.StatusType = models.StatusTypeUnknown
	}

	err := q.QueryRow(ctx, `
		INSERT INTO thread_email_attachments (email_id, name, filename, filetype, location, size, status_type, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		attachment.EmailID,
		attachment.Name,
		attachment.Filename,
		attachment.FileType,
		attachment.Location,
		attachment.SizeBytes,
		attachment.StatusType,
		attachment.Content,
	).Scan(&attachment.ID)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}

	return nil
}

// ListThreadEmails returns the thread's emails in receive order, with
// attachment metadata but without any stored content.
func ListThreadEmails(ctx context.Context, q Querier, threadID string) ([]models.Email, error) {
	rows, err := q.Query(ctx, `
		SELECT id, thread_id, id_old, email_type, subject, timestamp_received, datetime_received,
		       status_type, status_text, description, content_hash
		FROM thread_emails
		WHERE thread_id = $1
		ORDER BY timestamp_received, id_old
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	var emails []models.Email
	for rows.Next() {
		var e models.Email
		if err := rows.Scan(
			&e.ID, &e.ThreadID, &e.NaturalID, &e.Direction, &e.Subject, &e.TimestampReceived, &e.DateTime,
			&e.StatusType, &e.StatusText, &e.Description, &e.ContentHash,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emails: %w", err)
	}

	for i := range emails {
		attachments, err := listEmailAttachments(ctx, q, emails[i].ID)
		if err != nil {
			return nil, err
		}
		emails[i].Attachments = attachments
	}

	return emails, nil
}

func listEmailAttachments(ctx context.Context, q Querier, emailID string) ([]models.Attachment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, email_id, name, filename, filetype, location, size, status_type
		FROM thread_email_attachments
		WHERE email_id = $1
		ORDER BY location
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Name, &a.Filename, &a.FileType, &a.Location, &a.SizeBytes, &a.StatusType); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}

	return attachments, rows.Err()
}

// GetAttachmentContent returns the stored bytes for one attachment location.
func GetAttachmentContent(ctx context.Context, q Querier, emailID, location string) ([]byte, error) {
	var content []byte
	err := q.QueryRow(ctx, `
		SELECT content FROM thread_email_attachments WHERE email_id = $1 AND location = $2
	`, emailID, location).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s not found", location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment content: %w", err)
	}
	return content, nil
}
