package folders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/models"
)

// Manager keeps the server's folder tree in line with the thread table.
type Manager struct {
	pool     *pgxpool.Pool
	namer    Namer
	entities collab.EntityDirectory
	notifier collab.AdminNotifier
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func NewManager(pool *pgxpool.Pool, namer Namer, entities collab.EntityDirectory, notifier collab.AdminNotifier, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	return &Manager{
		pool:     pool,
		namer:    namer,
		entities: entities,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

func (m *Manager) Namer() Namer {
	return m.namer
}

// EnsureFolders creates every folder in required that the server lacks and
// returns the ones it created. Calling it again is a no-op.
func (m *Manager) EnsureFolders(ctx context.Context, t imap.Transport, required []string) ([]string, error) {
	existing, err := t.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	return m.ensure(ctx, t, toSet(existing), required)
}

func (m *Manager) ensure(ctx context.Context, t imap.Transport, existing map[string]bool, required []string) ([]string, error) {
	var created []string
	for _, folder := range required {
		if existing[folder] {
			continue
		}
		if err := t.CreateFolder(ctx, folder); err != nil {
			return created, err
		}
		existing[folder] = true
		created = append(created, folder)
		m.metrics.FoldersCreated.Inc()
		m.log.WithField("folder", folder).Info("Created folder")
	}
	return created, nil
}

// Archive renames the thread's active folder into the archive namespace.
// Nothing happens unless the thread is archived and its active folder still
// exists. It reports whether a rename took place.
func (m *Manager) Archive(ctx context.Context, t imap.Transport, entityID string, thread *models.Thread) (bool, error) {
	if !thread.Archived {
		return false, nil
	}

	existing, err := t.ListFolders(ctx)
	if err != nil {
		return false, err
	}
	return m.archive(ctx, t, toSet(existing), entityID, thread)
}

func (m *Manager) archive(ctx context.Context, t imap.Transport, existing map[string]bool, entityID string, thread *models.Thread) (bool, error) {
	if !thread.Archived {
		return false, nil
	}

	active := m.namer.ActiveFolder(entityID, thread.Title)
	target := m.namer.ArchiveFolder(entityID, thread.Title)
	log := m.log.WithFields(logrus.Fields{"thread_id": thread.ID, "folder": active, "target": target})

	if !existing[active] {
		return false, nil
	}
	if existing[target] {
		log.Warn("Archive folder already exists, leaving active folder in place")
		return false, nil
	}

	if _, err := m.ensure(ctx, t, existing, []string{m.namer.ArchiveRoot()}); err != nil {
		return false, err
	}

	if err := t.RenameFolder(ctx, active, target); err != nil {
		return false, err
	}
	delete(existing, active)
	existing[target] = true

	if err := db.RenameFolderStatus(ctx, m.pool, active, target); err != nil {
		return true, err
	}

	m.metrics.FoldersArchived.Inc()
	log.Info("Archived thread folder")
	return true, nil
}

// SyncResult summarises a SyncThreadFolders run.
type SyncResult struct {
	Created  []string `json:"created"`
	Archived []string `json:"archived"`
	Skipped  []string `json:"skipped_thread_ids"`
}

// SyncThreadFolders creates folders for live threads, archives folders of
// archived threads and binds every thread folder's status row to its thread.
// Threads whose entity is unknown are skipped and reported.
func (m *Manager) SyncThreadFolders(ctx context.Context, t imap.Transport) (*SyncResult, error) {
	threads, err := db.ListThreads(ctx, m.pool)
	if err != nil {
		return nil, err
	}

	list, err := t.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	existing := toSet(list)

	result := &SyncResult{}
	var required []string

	for _, thread := range threads {
		if _, ok := m.entities.GetByID(thread.EntityID); !ok {
			m.notifier.NotifyOfError(ctx, "Thread refers to unknown entity",
				fmt.Errorf("entity %q not found", thread.EntityID),
				logrus.Fields{"thread_id": thread.ID, "entity_id": thread.EntityID})
			result.Skipped = append(result.Skipped, thread.ID)
			continue
		}

		if thread.Archived {
			archived, err := m.archive(ctx, t, existing, thread.EntityID, thread)
			if err != nil {
				return result, fmt.Errorf("failed to archive thread %s: %w", thread.ID, err)
			}
			if archived {
				result.Archived = append(result.Archived, m.namer.ArchiveFolder(thread.EntityID, thread.Title))
			}
		} else {
			required = append(required, m.namer.ActiveFolder(thread.EntityID, thread.Title))
		}

		folder := m.namer.FolderFor(thread.EntityID, thread)
		threadID := thread.ID
		if err := db.UpsertFolderStatus(ctx, m.pool, folder, db.FolderStatusUpdate{ThreadID: &threadID}); err != nil {
			return result, err
		}
	}

	created, err := m.ensure(ctx, t, existing, required)
	result.Created = created
	if err != nil {
		return result, err
	}

	return result, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
