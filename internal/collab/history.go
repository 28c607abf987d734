package collab

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/offpost/mailsync/internal/db"
)

// ActorSystem is the actor of events caused by scheduled runs.
const ActorSystem = "system"

// History records thread-level events and who caused them.
type History interface {
	LogAction(ctx context.Context, threadID, action, actor, details string) error
}

// DBHistory writes to the thread_history table.
type DBHistory struct {
	pool *pgxpool.Pool
}

var _ History = (*DBHistory)(nil)

func NewDBHistory(pool *pgxpool.Pool) *DBHistory {
	return &DBHistory{pool: pool}
}

func (h *DBHistory) LogAction(ctx context.Context, threadID, action, actor, details string) error {
	return db.InsertHistory(ctx, h.pool, threadID, action, actor, details)
}
