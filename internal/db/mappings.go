package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/offpost/mailsync/internal/models"
)

// ErrOverrideNotFound is returned when no manual routing override exists.
var ErrOverrideNotFound = errors.New("routing override not found")

// GetOverride returns the manual routing override for a natural identifier.
func GetOverride(ctx context.Context, q Querier, naturalID string) (*models.ManualRoutingOverride, error) {
	var o models.ManualRoutingOverride
	err := q.QueryRow(ctx, `
		SELECT email_identifier, thread_id, description, created_at
		FROM thread_email_mapping
		WHERE email_identifier = $1
	`, naturalID).Scan(&o.NaturalID, &o.ThreadID, &o.Description, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routing override: %w", err)
	}
	return &o, nil
}

// SaveOverride creates or replaces the override for o.NaturalID.
func SaveOverride(ctx context.Context, q Querier, o *models.ManualRoutingOverride) error {
	err := q.QueryRow(ctx, `
		INSERT INTO thread_email_mapping (email_identifier, thread_id, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (email_identifier) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			description = EXCLUDED.description
		RETURNING created_at
	`, o.NaturalID, o.ThreadID, o.Description).Scan(&o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save routing override: %w", err)
	}
	return nil
}
