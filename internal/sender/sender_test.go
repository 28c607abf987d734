package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/smtp"
	"github.com/offpost/mailsync/internal/testutil"
)

var namer = folders.Namer{Root: "INBOX", Delimiter: ".", ArchiveSegment: "Archive", MaxNameLength: 100}

type fakeMailer struct {
	err  error
	sent []*smtp.Message
}

func (m *fakeMailer) Send(_ context.Context, msg *smtp.Message) (*smtp.Receipt, error) {
	if m.err != nil {
		return &smtp.Receipt{Debug: "C: MAIL FROM\nS: 451 try later"}, m.err
	}
	m.sent = append(m.sent, msg)
	return &smtp.Receipt{Response: "250 2.0.0 queued", Debug: "C: DATA\nS: 250 queued"}, nil
}

func newSender(pool *pgxpool.Pool, mailer Mailer) (*Sender, *collab.RecordingNotifier) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	notifier := &collab.RecordingNotifier{}
	return New(pool, mailer, namer, collab.NewDBHistory(pool), notifier, metrics.New(), log), notifier
}

func enqueueReady(t *testing.T, s *Sender, threadID, subject string) *models.OutboundSendRequest {
	t.Helper()
	req := &models.OutboundSendRequest{
		ThreadID:     threadID,
		EmailTo:      "post@acme.example",
		EmailSubject: subject,
		EmailBody:    "Body of " + subject,
	}
	require.NoError(t, s.Enqueue(context.Background(), req))
	require.NoError(t, s.MarkReady(context.Background(), req.ID))
	return req
}

func threadStatus(t *testing.T, pool *pgxpool.Pool, id string) models.SendingStatus {
	t.Helper()
	thread, err := db.GetThreadByID(context.Background(), pool, id)
	require.NoError(t, err)
	return thread.SendingStatus
}

func TestSender(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	t.Run("nothing to send", func(t *testing.T) {
		s, _ := newSender(pool, &fakeMailer{})
		result, err := s.Run(ctx)
		require.NoError(t, err)
		assert.True(t, result.NothingToSend)
	})

	t.Run("enqueue fills sender from thread", func(t *testing.T) {
		thread := testutil.InsertThread(t, pool, "Acme", "Enqueue", "enqueue@example.com")
		s, _ := newSender(pool, &fakeMailer{})

		req := &models.OutboundSendRequest{ThreadID: thread.ID, EmailTo: "post@acme.example", EmailSubject: "Hi"}
		require.NoError(t, s.Enqueue(ctx, req))
		assert.Equal(t, models.SendingStatusStaging, req.Status)
		assert.Equal(t, "enqueue@example.com", req.EmailFrom)
		assert.Equal(t, thread.MyName, req.EmailFromName)

		assert.Error(t, s.Enqueue(ctx, &models.OutboundSendRequest{ThreadID: thread.ID}))

		require.NoError(t, s.MarkReady(ctx, req.ID))
		assert.Equal(t, models.SendingStatusReadyForSending, threadStatus(t, pool, thread.ID))
		assert.ErrorIs(t, s.MarkReady(ctx, req.ID), db.ErrInvalidTransition)

		// leave the queue empty for the next subtests
		mailer := &fakeMailer{}
		s, _ = newSender(pool, mailer)
		_, err := s.Run(ctx)
		require.NoError(t, err)
	})

	t.Run("successful send", func(t *testing.T) {
		thread := testutil.InsertThread(t, pool, "Acme", "Records Request", "x@example.com")
		mailer := &fakeMailer{}
		s, _ := newSender(pool, mailer)
		req := enqueueReady(t, s, thread.ID, "Records")

		result, err := s.Run(ctx)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, req.ID, result.SendingID)
		assert.Equal(t, "250 2.0.0 queued", result.SMTPResponse)

		require.Len(t, mailer.sent, 1)
		assert.Equal(t, "x@example.com", mailer.sent[0].From)
		assert.Equal(t, "Records", mailer.sent[0].Subject)

		sending, err := db.GetSending(ctx, pool, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SendingStatusSent, sending.Status)
		assert.Equal(t, "250 2.0.0 queued", sending.SMTPResponse)
		assert.Equal(t, models.SendingStatusSent, threadStatus(t, pool, thread.ID))

		status, err := db.GetFolderStatus(ctx, pool, namer.FolderFor(thread.EntityID, thread))
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.NotNil(t, status.RequestedUpdateTime)

		history, err := db.ListHistory(ctx, pool, thread.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ActionEmailSent, history[0].Action)
		assert.Equal(t, collab.ActorSystem, history[0].Actor)

		t.Run("reply keeps the thread SENT", func(t *testing.T) {
			reply := enqueueReady(t, s, thread.ID, "Reminder")
			assert.Equal(t, models.SendingStatusSent, threadStatus(t, pool, thread.ID))

			result, err := s.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, reply.ID, result.SendingID)
			assert.Equal(t, models.SendingStatusSent, threadStatus(t, pool, thread.ID))
		})

		t.Run("SENT is final", func(t *testing.T) {
			err := db.TransitionSending(ctx, pool, req.ID, models.SendingStatusSent, models.SendingStatusReadyForSending, db.SendingUpdate{})
			assert.ErrorIs(t, err, db.ErrInvalidTransition)
		})
	})

	t.Run("failed send goes back to the queue", func(t *testing.T) {
		thread := testutil.InsertThread(t, pool, "Acme", "Failing", "fail@example.com")
		mailer := &fakeMailer{err: errors.New("451 try later")}
		s, notifier := newSender(pool, mailer)
		req := enqueueReady(t, s, thread.ID, "Will fail")

		result, err := s.Run(ctx)
		var failure *SendFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, req.ID, failure.SendingID)
		assert.False(t, result.Success)
		assert.Equal(t, "451 try later", result.ErrorMessage)

		sending, err := db.GetSending(ctx, pool, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SendingStatusReadyForSending, sending.Status)
		assert.Equal(t, "451 try later", sending.ErrorMessage)
		assert.Contains(t, sending.SMTPDebug, "451")
		assert.Equal(t, models.SendingStatusReadyForSending, threadStatus(t, pool, thread.ID))
		assert.Len(t, notifier.Notices(), 1)

		history, err := db.ListHistory(ctx, pool, thread.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ActionEmailSendFailed, history[0].Action)
		assert.Equal(t, collab.ActorSystem, history[0].Actor)

		mailer.err = nil
		result, err = s.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, req.ID, result.SendingID)
		assert.True(t, result.Success)
		assert.Equal(t, models.SendingStatusSent, threadStatus(t, pool, thread.ID))
	})

	t.Run("oldest ready sending goes first", func(t *testing.T) {
		a := testutil.InsertThread(t, pool, "Acme", "First", "first@example.com")
		b := testutil.InsertThread(t, pool, "Acme", "Second", "second@example.com")
		mailer := &fakeMailer{}
		s, _ := newSender(pool, mailer)

		first := enqueueReady(t, s, a.ID, "First")
		time.Sleep(10 * time.Millisecond)
		second := enqueueReady(t, s, b.ID, "Second")

		result, err := s.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, result.SendingID)

		result, err = s.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, result.SendingID)
	})
}

func TestSenderWithSMTPServer(t *testing.T) {
	pool := testutil.NewTestDB(t)
	server := testutil.NewTestSMTPServer(t)
	defer server.Close()
	ctx := context.Background()

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := smtp.NewClient(smtp.Config{
		Address:  server.Address,
		TLSMode:  smtp.TLSNone,
		Username: server.Username(),
		Password: server.Password(),
		Timeout:  5 * time.Second,
	}, log)

	s, _ := newSender(pool, client)
	thread := testutil.InsertThread(t, pool, "Acme", "Live", "live@example.com")

	t.Run("rejected recipient", func(t *testing.T) {
		server.Backend.RejectRecipient("gone@acme.example")
		req := &models.OutboundSendRequest{ThreadID: thread.ID, EmailTo: "gone@acme.example", EmailSubject: "Hello", EmailBody: "Hi"}
		require.NoError(t, s.Enqueue(ctx, req))
		require.NoError(t, s.MarkReady(ctx, req.ID))

		_, err := s.Run(ctx)
		var failure *SendFailure
		require.ErrorAs(t, err, &failure)

		sending, err := db.GetSending(ctx, pool, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SendingStatusReadyForSending, sending.Status)
		assert.Contains(t, sending.SMTPDebug, "RCPT TO")
		assert.Equal(t, models.SendingStatusReadyForSending, threadStatus(t, pool, thread.ID))

		// drop it so the next subtest sees only its own sending
		_, err = pool.Exec(ctx, `DELETE FROM thread_email_sendings WHERE id = $1`, req.ID)
		require.NoError(t, err)
	})

	t.Run("delivers through SMTP", func(t *testing.T) {
		req := &models.OutboundSendRequest{ThreadID: thread.ID, EmailTo: "post@acme.example", EmailSubject: "Hello", EmailBody: "Hi"}
		require.NoError(t, s.Enqueue(ctx, req))
		require.NoError(t, s.MarkReady(ctx, req.ID))

		result, err := s.Run(ctx)
		require.NoError(t, err)
		assert.True(t, result.Success)

		msgs := server.GetMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "live@example.com", msgs[0].From)
		assert.Equal(t, models.SendingStatusSent, threadStatus(t, pool, thread.ID))
	})
}

func TestEnqueueReady(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	s, _ := newSender(pool, &fakeMailer{})

	t.Run("stores and releases in one step", func(t *testing.T) {
		thread := testutil.InsertThread(t, pool, "Acme", "Ready", "ready@example.com")
		req := &models.OutboundSendRequest{ThreadID: thread.ID, EmailTo: "post@acme.example", EmailSubject: "Now"}

		require.NoError(t, s.EnqueueReady(ctx, req))
		assert.Equal(t, models.SendingStatusReadyForSending, req.Status)

		stored, err := db.GetSending(ctx, pool, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SendingStatusReadyForSending, stored.Status)
		assert.Equal(t, models.SendingStatusReadyForSending, threadStatus(t, pool, thread.ID))
	})

	t.Run("failed release leaves no draft", func(t *testing.T) {
		thread := testutil.InsertThread(t, pool, "Acme", "Locked", "locked@example.com")

		_, err := pool.Exec(ctx, `
			CREATE FUNCTION reject_thread_update() RETURNS trigger AS $$
			BEGIN
				RAISE EXCEPTION 'thread is locked';
			END;
			$$ LANGUAGE plpgsql`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, fmt.Sprintf(`
			CREATE TRIGGER reject_thread_update BEFORE UPDATE ON threads
			FOR EACH ROW WHEN (OLD.id = '%s') EXECUTE FUNCTION reject_thread_update()`, thread.ID))
		require.NoError(t, err)

		req := &models.OutboundSendRequest{ThreadID: thread.ID, EmailTo: "post@acme.example", EmailSubject: "Never"}
		require.Error(t, s.EnqueueReady(ctx, req))

		sendings, err := db.ListSendings(ctx, pool, thread.ID)
		require.NoError(t, err)
		assert.Empty(t, sendings)
		assert.Equal(t, models.SendingStatusStaging, threadStatus(t, pool, thread.ID))
	})
}
