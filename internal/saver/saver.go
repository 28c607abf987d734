// Package saver persists the messages of a thread folder.
package saver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/message"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/models"
)

// Sink stores one email for its owning thread. Implementations skip
// messages already stored with the same content and report saved=false.
// On success email carries the identifier it was stored under.
type Sink interface {
	Save(ctx context.Context, thread *models.Thread, email *models.Email) (saved bool, err error)
}

// Result summarises one SaveFolder call.
type Result struct {
	SavedCount   int      `json:"saved_count"`
	SavedIDs     []string `json:"saved_ids"`
	SkippedCount int      `json:"skipped_count"`
	// ParseErrors counts messages that could not be read and were left alone.
	ParseErrors int `json:"parse_errors"`
	// Threads holds the threads that received emails, with the new emails
	// appended in receive order.
	Threads []*models.Thread `json:"-"`
}

type Saver struct {
	pool    *pgxpool.Pool
	sink    Sink
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

func New(pool *pgxpool.Pool, sink Sink, m *metrics.Metrics, log logrus.FieldLogger) *Saver {
	return &Saver{pool: pool, sink: sink, metrics: m, log: log}
}

// WithLogger returns a copy of s that logs to log.
func (s *Saver) WithLogger(log logrus.FieldLogger) *Saver {
	c := *s
	c.log = log
	return &c
}

// SaveFolder stores every message of folder that is not stored yet. It
// stops at the first message without a single owning thread or failing to
// save; messages saved before that stay saved.
func (s *Saver) SaveFolder(ctx context.Context, t imap.Transport, folder string) (*Result, error) {
	threads, err := db.ListThreads(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	owners := ownerIndex(threads)
	byID := make(map[string]*models.Thread, len(threads))
	for _, th := range threads {
		byID[th.ID] = th
	}

	uids, err := t.SearchUIDs(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", folder, err)
	}

	log := s.log.WithField("folder", folder)
	log.WithField("messages", len(uids)).Debug("Saving folder")

	result := &Result{}
	for _, uid := range uids {
		raw, err := t.FetchRaw(ctx, folder, uid)
		if err != nil {
			return result, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
		}

		parsed, err := message.Parse(raw.Body, raw.InternalDate)
		var parseErr *message.ParseError
		if errors.As(err, &parseErr) {
			result.ParseErrors++
			log.WithField("uid", uid).WithError(err).Warn("Skipping unreadable message")
			continue
		}
		if err != nil {
			return result, err
		}

		thread, err := s.owner(ctx, owners, byID, parsed)
		if err != nil {
			return result, err
		}

		email, err := buildEmail(parsed, thread)
		if err != nil {
			return result, fmt.Errorf("uid %d: %w", uid, err)
		}

		saved, err := s.sink.Save(ctx, thread, email)
		if err != nil {
			return result, err
		}

		msgLog := log.WithFields(logrus.Fields{"uid": uid, "thread_id": thread.ID, "natural_id": email.NaturalID})
		if !saved {
			result.SkippedCount++
			msgLog.Debug("Email already saved")
			continue
		}

		email.Content = nil
		for i := range email.Attachments {
			email.Attachments[i].Content = nil
		}
		if len(thread.Emails) == 0 {
			result.Threads = append(result.Threads, thread)
		}
		thread.AppendEmail(*email)
		thread.AddLabel(models.LabelUnclassified)

		result.SavedCount++
		result.SavedIDs = append(result.SavedIDs, email.NaturalID)
		s.metrics.EmailsSaved.Inc()
		msgLog.WithField("direction", email.Direction).Info("Saved email")
	}

	return result, nil
}

// owner resolves the thread a message belongs to. A manual routing override
// wins over address matching, the same precedence the router uses.
func (s *Saver) owner(ctx context.Context, idx owners, byID map[string]*models.Thread, parsed *message.Parsed) (*models.Thread, error) {
	override, err := db.GetOverride(ctx, s.pool, parsed.NaturalID())
	switch {
	case errors.Is(err, db.ErrOverrideNotFound):
		return idx.owner(parsed)
	case err != nil:
		return nil, err
	}

	thread, ok := byID[override.ThreadID]
	if !ok {
		return nil, fmt.Errorf("override for %s points to unknown thread %s: %w", override.NaturalID, override.ThreadID, db.ErrThreadNotFound)
	}
	return thread, nil
}

// buildEmail turns a parsed message into an email with attachment content.
func buildEmail(parsed *message.Parsed, thread *models.Thread) (*models.Email, error) {
	email := &models.Email{
		ThreadID:          thread.ID,
		NaturalID:         parsed.NaturalID(),
		Direction:         parsed.Direction(thread.MyEmail),
		Subject:           parsed.Subject,
		TimestampReceived: parsed.Date,
		DateTime:          parsed.Date,
		StatusType:        models.StatusTypeUnknown,
		Content:           parsed.Raw,
		ContentHash:       parsed.ContentHash(),
		IMAPHeaders:       parsed.HeaderBlock(),
	}

	for _, meta := range parsed.Attachments() {
		content, err := parsed.FetchContent(meta.Index)
		if err != nil {
			return nil, err
		}
		email.Attachments = append(email.Attachments, models.Attachment{
			Name:       meta.Name,
			Filename:   meta.Name,
			Location:   meta.Location,
			FileType:   meta.ContentType,
			SizeBytes:  int64(meta.Size),
			StatusType: models.StatusTypeUnknown,
			Content:    content,
		})
	}

	return email, nil
}

// owners maps identity addresses to the active threads that use them.
type owners map[string][]*models.Thread

func ownerIndex(threads []*models.Thread) owners {
	idx := owners{}
	for _, t := range threads {
		if t.Archived {
			continue
		}
		addr := strings.ToLower(strings.TrimSpace(t.MyEmail))
		if addr != "" {
			idx[addr] = append(idx[addr], t)
		}
	}
	return idx
}

func (o owners) owner(parsed *message.Parsed) (*models.Thread, error) {
	seen := map[string]*models.Thread{}
	var ids []string
	for _, addr := range parsed.Addresses {
		for _, t := range o[addr] {
			if _, ok := seen[t.ID]; !ok {
				seen[t.ID] = t
				ids = append(ids, t.ID)
			}
		}
	}

	if len(ids) != 1 {
		return nil, &AmbiguousMatchError{NaturalID: parsed.NaturalID(), Addresses: parsed.Addresses, ThreadIDs: ids}
	}
	return seen[ids[0]], nil
}
