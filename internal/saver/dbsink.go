package saver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/models"
)

// DBSink stores emails and attachment content in PostgreSQL, one
// transaction per message.
type DBSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*DBSink)(nil)

func NewDBSink(pool *pgxpool.Pool) *DBSink {
	return &DBSink{pool: pool}
}

func (s *DBSink) Save(ctx context.Context, thread *models.Thread, email *models.Email) (bool, error) {
	saved := false

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		id, duplicate, err := ResolveNaturalID(email.NaturalID, email.ContentHash, func(id string) (string, bool, error) {
			return db.GetEmailContentHash(ctx, tx, thread.ID, id)
		})
		if err != nil {
			return err
		}
		if duplicate {
			return nil
		}

		email.NaturalID = id
		email.ThreadID = thread.ID
		if err := db.InsertEmail(ctx, tx, email); err != nil {
			return err
		}

		for i := range email.Attachments {
			a := &email.Attachments[i]
			a.EmailID = email.ID
			if err := db.InsertAttachment(ctx, tx, a); err != nil {
				return fmt.Errorf("attachment %s: %w", a.Location, err)
			}
		}

		if err := db.AddThreadLabel(ctx, tx, thread.ID, models.LabelUnclassified); err != nil {
			return err
		}

		saved = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to save email %s: %w", email.NaturalID, err)
	}

	return saved, nil
}
