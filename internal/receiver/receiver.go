// Package receiver runs one scheduled receive: it picks the stalest thread
// folder, saves its new emails and records the run in the folder log.
package receiver

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/saver"
)

// Result describes one receive run.
type Result struct {
	NothingToDo bool             `json:"nothing_to_do"`
	Folder      string           `json:"folder,omitempty"`
	ThreadID    string           `json:"thread_id,omitempty"`
	Status      models.LogStatus `json:"status,omitempty"`
	Message     string           `json:"message,omitempty"`
	SavedCount  int              `json:"saved_count"`
	SavedIDs    []string         `json:"saved_ids,omitempty"`
	LogID       int64            `json:"log_id,omitempty"`
}

type Receiver struct {
	pool      *pgxpool.Pool
	connector imap.Connector
	saver     *saver.Saver
	namer     folders.Namer
	notifier  collab.AdminNotifier
	log       *logrus.Logger
}

func New(pool *pgxpool.Pool, connector imap.Connector, s *saver.Saver, namer folders.Namer, notifier collab.AdminNotifier, log *logrus.Logger) *Receiver {
	return &Receiver{
		pool:      pool,
		connector: connector,
		saver:     s,
		namer:     namer,
		notifier:  notifier,
		log:       log,
	}
}

// Run processes the one folder most in need of a check. A failed run is
// logged with the run's captured log output and returned as an error; the
// folder's check time is then left alone so it is retried first.
func (r *Receiver) Run(ctx context.Context) (*Result, error) {
	started := time.Now().UTC()

	status, err := db.NextFolderToCheck(ctx, r.pool, r.namer.ArchivePrefix())
	if err != nil {
		return nil, err
	}
	if status == nil {
		r.log.Debug("No folder to receive")
		return &Result{NothingToDo: true}, nil
	}

	result := &Result{Folder: status.FolderName}
	if status.ThreadID != nil {
		result.ThreadID = *status.ThreadID
	}

	logID, err := db.AppendLog(ctx, r.pool, status.FolderName, models.LogStatusStarted, "Receiving emails")
	if err != nil {
		return nil, err
	}
	result.LogID = logID

	if err := db.MarkFolderAttempted(ctx, r.pool, status.FolderName, started); err != nil {
		return result, err
	}

	var debug bytes.Buffer
	runLog := r.runLogger(&debug).WithFields(logrus.Fields{"folder": status.FolderName, "log_id": logID})
	runLog.Info("Receiving emails")

	saved, runErr := r.receive(ctx, status.FolderName, runLog)
	if saved != nil {
		result.SavedCount = saved.SavedCount
		result.SavedIDs = saved.SavedIDs
	}

	if runErr != nil {
		runLog.WithError(runErr).Error("Receive failed")
		result.Status = models.LogStatusError
		result.Message = runErr.Error()
		if err := db.UpdateLog(ctx, r.pool, logID, models.LogStatusError, result.Message, debug.String()); err != nil {
			r.log.WithError(err).Error("Failed to update folder log")
		}
		r.notifier.NotifyOfError(ctx, "Failed to receive emails", runErr, logrus.Fields{"folder": status.FolderName})
		return result, fmt.Errorf("failed to receive %s: %w", status.FolderName, runErr)
	}

	result.Status = models.LogStatusInfo
	result.Message = "No new emails"
	if result.SavedCount > 0 {
		result.Status = models.LogStatusSuccess
		result.Message = fmt.Sprintf("Saved %d new emails", result.SavedCount)
	}
	runLog.WithField("saved", result.SavedCount).Info(result.Message)

	if err := db.UpdateLog(ctx, r.pool, logID, result.Status, result.Message, ""); err != nil {
		return result, err
	}

	err = db.UpsertFolderStatus(ctx, r.pool, status.FolderName, db.FolderStatusUpdate{
		MarkChecked:    true,
		CheckStartedAt: started,
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

func (r *Receiver) receive(ctx context.Context, folder string, log logrus.FieldLogger) (*saver.Result, error) {
	t, err := r.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := t.Close(); err != nil {
			log.WithError(err).Warn("Failed to close IMAP session")
		}
	}()

	return r.saver.WithLogger(log).SaveFolder(ctx, t, folder)
}

// runLogger captures everything down to debug level in buf, whose content
// becomes the debug output of a failed run, and forwards entries to the
// process log at its own level.
func (r *Receiver) runLogger(buf *bytes.Buffer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	l.AddHook(&forwardHook{target: r.log})
	return l
}

type forwardHook struct {
	target *logrus.Logger
}

func (h *forwardHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *forwardHook) Fire(e *logrus.Entry) error {
	if h.target.IsLevelEnabled(e.Level) {
		h.target.WithFields(e.Data).WithTime(e.Time).Log(e.Level, e.Message)
	}
	return nil
}
