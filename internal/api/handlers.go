// Package api is the operator HTTP API: health, metrics, run triggers and
// the manual steps of the sync engine (unmatched messages, send queue).
package api

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/scheduler"
)

// JobRunner runs the scheduled jobs on demand.
type JobRunner interface {
	Trigger(ctx context.Context, name string) (any, error)
	Status() []scheduler.JobStatus
}

// SendQueue accepts drafts and releases them for delivery.
type SendQueue interface {
	Enqueue(ctx context.Context, req *models.OutboundSendRequest) error
	EnqueueReady(ctx context.Context, req *models.OutboundSendRequest) error
	MarkReady(ctx context.Context, sendingID string) error
}

// Handlers holds the dependencies of all API handlers.
type Handlers struct {
	pool     *pgxpool.Pool
	jobs     JobRunner
	queue    SendQueue
	registry *prometheus.Registry
	log      logrus.FieldLogger
}

func NewHandlers(pool *pgxpool.Pool, jobs JobRunner, queue SendQueue, registry *prometheus.Registry, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		pool:     pool,
		jobs:     jobs,
		queue:    queue,
		registry: registry,
		log:      log,
	}
}
