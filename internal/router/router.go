package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/message"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/models"
)

// ErrRoutingUnmatched marks a message that stayed in its source folder.
// It is recorded for an operator, never returned from Run.
var ErrRoutingUnmatched = errors.New("no single thread matches message")

type Config struct {
	// SourceFolders are scanned in order, normally INBOX and the sent folder.
	SourceFolders []string
	BatchSize     int
	MaxErrors     int
	// DMARCAddress keeps routing to archived threads that use it and is
	// never reported as an unmatched address.
	DMARCAddress string
}

// MoveResult summarises one routing run.
type MoveResult struct {
	MovedCount         int            `json:"moved_count"`
	MovedTo            map[string]int `json:"moved_to"`
	UnmatchedCount     int            `json:"unmatched_count"`
	UnmatchedAddresses []string       `json:"unmatched_addresses"`
	ErrorCount         int            `json:"error_count"`
	Errors             []string       `json:"errors,omitempty"`
	BatchTruncated     bool           `json:"batch_truncated"`
}

type Router struct {
	pool      *pgxpool.Pool
	connector imap.Connector
	namer     folders.Namer
	notifier  collab.AdminNotifier
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	cfg       Config
}

func New(pool *pgxpool.Pool, connector imap.Connector, namer folders.Namer, notifier collab.AdminNotifier, m *metrics.Metrics, log logrus.FieldLogger, cfg Config) *Router {
	return &Router{
		pool:      pool,
		connector: connector,
		namer:     namer,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Run opens a session and routes one batch.
func (r *Router) Run(ctx context.Context) (*MoveResult, error) {
	t, err := r.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := t.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close IMAP session")
		}
	}()

	return r.Route(ctx, t)
}

// run holds the state of one Route call.
type run struct {
	*Router
	t         imap.Transport
	index     *addressIndex
	existing  map[string]bool
	result    *MoveResult
	unmatched map[string]bool
	processed int
}

// Route moves up to BatchSize messages out of the source folders. Per-message
// failures are counted; once MaxErrors is reached the run stops early with
// BatchTruncated set. The returned error is reserved for failures that affect
// the whole run.
func (r *Router) Route(ctx context.Context, t imap.Transport) (*MoveResult, error) {
	threads, err := db.ListThreads(ctx, r.pool)
	if err != nil {
		return nil, err
	}

	list, err := t.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	ru := &run{
		Router:    r,
		t:         t,
		index:     buildIndex(threads, r.namer, r.cfg.DMARCAddress),
		existing:  map[string]bool{},
		result:    &MoveResult{MovedTo: map[string]int{}},
		unmatched: map[string]bool{},
	}
	for _, f := range list {
		ru.existing[f] = true
	}

	for _, folder := range r.cfg.SourceFolders {
		if !ru.existing[folder] {
			r.log.WithField("folder", folder).Debug("Source folder does not exist, skipping")
			continue
		}
		if stop := ru.routeFolder(ctx, folder); stop {
			break
		}
	}

	for addr := range ru.unmatched {
		ru.result.UnmatchedAddresses = append(ru.result.UnmatchedAddresses, addr)
	}
	sort.Strings(ru.result.UnmatchedAddresses)

	return ru.result, ctx.Err()
}

// routeFolder reports whether the whole run must stop.
func (ru *run) routeFolder(ctx context.Context, folder string) bool {
	log := ru.log.WithField("folder", folder)

	uids, err := ru.t.SearchUIDs(ctx, folder)
	if err != nil {
		return ru.fail(ctx, log, fmt.Errorf("failed to search %s: %w", folder, err))
	}

	for _, uid := range uids {
		if ctx.Err() != nil {
			return true
		}
		if ru.processed >= ru.cfg.BatchSize {
			ru.result.BatchTruncated = true
			return true
		}
		ru.processed++

		if err := ru.routeMessage(ctx, folder, uid); err != nil {
			if ru.fail(ctx, log.WithField("uid", uid), err) {
				return true
			}
		}
	}

	return false
}

// fail records a per-message error and reports whether the ceiling was hit.
func (ru *run) fail(ctx context.Context, log logrus.FieldLogger, err error) bool {
	ru.result.ErrorCount++
	ru.result.Errors = append(ru.result.Errors, err.Error())
	ru.metrics.RouteErrors.Inc()
	log.WithError(err).Error("Failed to route message")
	ru.notifier.NotifyOfError(ctx, "Failed to route message", err, logrus.Fields{"error_count": ru.result.ErrorCount})

	if ru.result.ErrorCount >= ru.cfg.MaxErrors {
		ru.result.BatchTruncated = true
		log.WithField("max_errors", ru.cfg.MaxErrors).Warn("Error ceiling reached, stopping routing run")
		return true
	}
	return false
}

func (ru *run) routeMessage(ctx context.Context, folder string, uid uint32) error {
	raw, err := ru.t.FetchRaw(ctx, folder, uid)
	if err != nil {
		return err
	}

	parsed, err := message.Parse(raw.Body, raw.InternalDate)
	if err != nil {
		return fmt.Errorf("uid %d in %s: %w", uid, folder, err)
	}
	naturalID := parsed.NaturalID()

	target, err := ru.overrideTarget(ctx, naturalID)
	if err != nil {
		return err
	}

	var match matchResult
	if target == "" {
		match = ru.index.match(parsed.Addresses)
		if len(match.folders) == 1 {
			target = match.folders[0]
		}
	}

	if target == "" {
		return ru.recordUnmatched(ctx, folder, parsed, naturalID, match)
	}

	if target == folder {
		return nil
	}

	if !ru.existing[target] {
		if err := ru.t.CreateFolder(ctx, target); err != nil {
			return err
		}
		ru.existing[target] = true
	}

	if err := ru.t.Move(ctx, folder, uid, target); err != nil {
		return err
	}

	if err := db.RequestFolderUpdate(ctx, ru.pool, target); err != nil {
		return err
	}

	ru.result.MovedCount++
	ru.result.MovedTo[target]++
	ru.metrics.MessagesRouted.Inc()
	ru.log.WithFields(logrus.Fields{
		"folder":     folder,
		"uid":        uid,
		"natural_id": naturalID,
		"target":     target,
	}).Info("Routed message")

	return nil
}

// overrideTarget returns the folder a manual override points at, or "".
func (ru *run) overrideTarget(ctx context.Context, naturalID string) (string, error) {
	override, err := db.GetOverride(ctx, ru.pool, naturalID)
	if errors.Is(err, db.ErrOverrideNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	thread, err := db.GetThreadByID(ctx, ru.pool, override.ThreadID)
	if err != nil {
		return "", fmt.Errorf("override for %s: %w", naturalID, err)
	}
	return ru.namer.FolderFor(thread.EntityID, thread), nil
}

func (ru *run) recordUnmatched(ctx context.Context, folder string, parsed *message.Parsed, naturalID string, match matchResult) error {
	dmarc := strings.ToLower(ru.cfg.DMARCAddress)
	for _, addr := range parsed.Addresses {
		if addr == dmarc || ru.index.known(addr) {
			continue
		}
		ru.unmatched[addr] = true
	}

	rec := &models.UnmatchedMessageRecord{
		NaturalID: naturalID,
		Subject:   parsed.Subject,
		Addresses: parsed.Addresses,
		Folder:    folder,
	}
	if len(match.folders) > 1 {
		rec.ErrorType = models.UnmatchedErrorMultipleMatch
		rec.ErrorMessage = fmt.Sprintf("%v: %d threads match (%s)", ErrRoutingUnmatched, len(match.folders), strings.Join(match.folders, ", "))
	} else {
		rec.ErrorType = models.UnmatchedErrorNoMatch
		rec.ErrorMessage = fmt.Sprintf("%v: no thread uses any of %s", ErrRoutingUnmatched, strings.Join(parsed.Addresses, ", "))
	}
	if len(match.archivedThreadIDs) == 1 {
		rec.SuggestedThreadID = &match.archivedThreadIDs[0]
	}

	if err := db.RecordOrUpdateUnmatched(ctx, ru.pool, rec); err != nil {
		return err
	}

	ru.result.UnmatchedCount++
	ru.metrics.MessagesUnmatched.Inc()
	ru.log.WithFields(logrus.Fields{
		"folder":     folder,
		"natural_id": naturalID,
		"error_type": rec.ErrorType,
	}).Info("Message left unmatched")
	return nil
}
