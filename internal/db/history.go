package db

import (
	"context"
	"fmt"

	"github.com/offpost/mailsync/internal/models"
)

func InsertHistory(ctx context.Context, q Querier, threadID, action, actor, details string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO thread_history (thread_id, action, actor, details) VALUES ($1, $2, $3, $4)
	`, threadID, action, actor, details)
	if err != nil {
		return fmt.Errorf("failed to insert thread history: %w", err)
	}
	return nil
}

func ListHistory(ctx context.Context, q Querier, threadID string) ([]*models.HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, thread_id, action, actor, details, created_at
		FROM thread_history WHERE thread_id = $1
		ORDER BY created_at, id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ThreadID, &e.Action, &e.Actor, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
