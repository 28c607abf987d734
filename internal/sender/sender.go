// Package sender owns the outbound send queue: drafts are enqueued in
// STAGING, released with MarkReady and delivered one per Run.
package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/smtp"
)

const (
	ActionEmailSent       = "email_sent"
	ActionEmailSendFailed = "email_send_failed"
)

// Mailer delivers one message.
type Mailer interface {
	Send(ctx context.Context, m *smtp.Message) (*smtp.Receipt, error)
}

// SendFailure is returned by Run when the SMTP delivery failed. The sending
// is back in READY_FOR_SENDING by then.
type SendFailure struct {
	SendingID string
	ThreadID  string
	Err       error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("failed to send %s for thread %s: %v", e.SendingID, e.ThreadID, e.Err)
}

func (e *SendFailure) Unwrap() error {
	return e.Err
}

// SendResult describes one Run.
type SendResult struct {
	Success       bool   `json:"success"`
	NothingToSend bool   `json:"nothing_to_send"`
	SendingID     string `json:"sending_id,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
	SMTPResponse  string `json:"smtp_response,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

type Sender struct {
	pool     *pgxpool.Pool
	mailer   Mailer
	namer    folders.Namer
	history  collab.History
	notifier collab.AdminNotifier
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

func New(pool *pgxpool.Pool, mailer Mailer, namer folders.Namer, history collab.History, notifier collab.AdminNotifier, m *metrics.Metrics, log logrus.FieldLogger) *Sender {
	return &Sender{
		pool:     pool,
		mailer:   mailer,
		namer:    namer,
		history:  history,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

// Enqueue stores req as a STAGING draft. Sender fields left empty are
// taken from the thread's identity.
func (s *Sender) Enqueue(ctx context.Context, req *models.OutboundSendRequest) error {
	return s.enqueue(ctx, req, false)
}

// EnqueueReady stores req and releases it for delivery in one transaction,
// so a failure leaves no draft behind.
func (s *Sender) EnqueueReady(ctx context.Context, req *models.OutboundSendRequest) error {
	return s.enqueue(ctx, req, true)
}

func (s *Sender) enqueue(ctx context.Context, req *models.OutboundSendRequest, ready bool) error {
	if strings.TrimSpace(req.EmailTo) == "" {
		return errors.New("recipient is required")
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		thread, err := db.GetThreadByID(ctx, tx, req.ThreadID)
		if err != nil {
			return err
		}
		if req.EmailFrom == "" {
			req.EmailFrom = thread.MyEmail
		}
		if req.EmailFromName == "" {
			req.EmailFromName = thread.MyName
		}

		if err := db.CreateSending(ctx, tx, req); err != nil {
			return err
		}
		if !ready {
			return nil
		}

		err = db.TransitionSending(ctx, tx, req.ID, models.SendingStatusStaging, models.SendingStatusReadyForSending, db.SendingUpdate{})
		if err != nil {
			return err
		}
		_, err = moveThread(ctx, tx, req.ThreadID, models.SendingStatusStaging, models.SendingStatusReadyForSending)
		return err
	})
	if err != nil {
		return err
	}
	if ready {
		req.Status = models.SendingStatusReadyForSending
	}

	s.log.WithFields(logrus.Fields{"sending_id": req.ID, "thread_id": req.ThreadID, "status": req.Status}).Info("Sending enqueued")
	return nil
}

// MarkReady releases a STAGING draft for delivery. A STAGING thread moves
// along with it.
func (s *Sender) MarkReady(ctx context.Context, sendingID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sending, err := db.GetSending(ctx, tx, sendingID)
		if err != nil {
			return err
		}

		err = db.TransitionSending(ctx, tx, sending.ID, models.SendingStatusStaging, models.SendingStatusReadyForSending, db.SendingUpdate{})
		if err != nil {
			return err
		}

		_, err = moveThread(ctx, tx, sending.ThreadID, models.SendingStatusStaging, models.SendingStatusReadyForSending)
		return err
	})
}

// Run delivers the oldest READY_FOR_SENDING sending, if any. Delivery is
// attempted once; on failure the sending goes back to READY_FOR_SENDING and
// a *SendFailure is returned along with the result.
func (s *Sender) Run(ctx context.Context) (*SendResult, error) {
	sending, err := s.claim(ctx)
	if err != nil {
		return nil, err
	}
	if sending == nil {
		return &SendResult{NothingToSend: true}, nil
	}

	result := &SendResult{SendingID: sending.ID, ThreadID: sending.ThreadID}
	log := s.log.WithFields(logrus.Fields{"sending_id": sending.ID, "thread_id": sending.ThreadID})

	receipt, sendErr := s.mailer.Send(ctx, &smtp.Message{
		From:     sending.EmailFrom,
		FromName: sending.EmailFromName,
		To:       sending.EmailTo,
		Subject:  sending.EmailSubject,
		Body:     sending.EmailBody,
	})
	if receipt == nil {
		receipt = &smtp.Receipt{}
	}

	// The outcome is written even if ctx was cancelled during delivery so the
	// sending never stays in SENDING.
	finishCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		result.ErrorMessage = sendErr.Error()
		if err := s.fail(finishCtx, sending, receipt, sendErr); err != nil {
			return result, err
		}
		log.WithError(sendErr).Warn("Sending failed, back in queue")
		return result, &SendFailure{SendingID: sending.ID, ThreadID: sending.ThreadID, Err: sendErr}
	}

	result.Success = true
	result.SMTPResponse = receipt.Response
	if err := s.complete(finishCtx, sending, receipt); err != nil {
		return result, err
	}
	log.WithField("response", receipt.Response).Info("Sending delivered")
	return result, nil
}

// claim locks the next sending and moves it and its thread to SENDING.
func (s *Sender) claim(ctx context.Context) (*models.OutboundSendRequest, error) {
	var claimed *models.OutboundSendRequest

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		sending, err := db.ClaimNextSending(ctx, tx)
		if err != nil || sending == nil {
			return err
		}

		err = db.TransitionSending(ctx, tx, sending.ID, models.SendingStatusReadyForSending, models.SendingStatusSending, db.SendingUpdate{})
		if err != nil {
			return err
		}
		if _, err := moveThread(ctx, tx, sending.ThreadID, models.SendingStatusReadyForSending, models.SendingStatusSending); err != nil {
			return err
		}

		sending.Status = models.SendingStatusSending
		claimed = sending
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim next sending: %w", err)
	}

	return claimed, nil
}

func (s *Sender) complete(ctx context.Context, sending *models.OutboundSendRequest, receipt *smtp.Receipt) error {
	var thread *models.Thread

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := db.TransitionSending(ctx, tx, sending.ID, models.SendingStatusSending, models.SendingStatusSent, db.SendingUpdate{
			SMTPResponse: receipt.Response,
			SMTPDebug:    receipt.Debug,
		})
		if err != nil {
			return err
		}

		thread, err = moveThread(ctx, tx, sending.ThreadID, models.SendingStatusSending, models.SendingStatusSent)
		if err != nil {
			return err
		}

		return db.RequestFolderUpdate(ctx, tx, s.namer.FolderFor(thread.EntityID, thread))
	})
	if err != nil {
		return fmt.Errorf("failed to record sent %s: %w", sending.ID, err)
	}

	s.metrics.SendSuccesses.Inc()
	s.logHistory(ctx, sending.ThreadID, ActionEmailSent, fmt.Sprintf("Sent to %s: %s", sending.EmailTo, receipt.Response))
	return nil
}

func (s *Sender) fail(ctx context.Context, sending *models.OutboundSendRequest, receipt *smtp.Receipt, sendErr error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := db.TransitionSending(ctx, tx, sending.ID, models.SendingStatusSending, models.SendingStatusReadyForSending, db.SendingUpdate{
			SMTPDebug:    receipt.Debug,
			ErrorMessage: sendErr.Error(),
		})
		if err != nil {
			return err
		}

		_, err = moveThread(ctx, tx, sending.ThreadID, models.SendingStatusSending, models.SendingStatusReadyForSending)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to requeue %s: %w", sending.ID, err)
	}

	s.metrics.SendFailures.Inc()
	s.logHistory(ctx, sending.ThreadID, ActionEmailSendFailed, sendErr.Error())
	s.notifier.NotifyOfError(ctx, "Failed to send email", sendErr, logrus.Fields{
		"sending_id": sending.ID,
		"thread_id":  sending.ThreadID,
	})
	return nil
}

func (s *Sender) logHistory(ctx context.Context, threadID, action, details string) {
	if err := s.history.LogAction(ctx, threadID, action, collab.ActorSystem, details); err != nil {
		s.log.WithError(err).WithField("thread_id", threadID).Warn("Failed to write thread history")
	}
}

// moveThread moves the thread from -> to when it is in from. A thread in
// any other state is left as is: a reply on an already SENT thread must not
// reopen it.
func moveThread(ctx context.Context, tx pgx.Tx, threadID string, from, to models.SendingStatus) (*models.Thread, error) {
	thread, err := db.GetThreadForUpdate(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.SendingStatus != from {
		return thread, nil
	}

	if err := db.UpdateThreadSendingStatus(ctx, tx, threadID, to, from); err != nil {
		return nil, err
	}
	thread.SendingStatus = to
	return thread, nil
}
