// Package smtp delivers outgoing email through an SMTP submission server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
)

type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
)

type Config struct {
	Address  string
	TLSMode  TLSMode
	Username string
	Password string
	// Timeout bounds each SMTP command.
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Receipt is what the server said about one delivery attempt.
type Receipt struct {
	// Response is the server's final reply to DATA.
	Response string
	// Debug is the SMTP transcript, kept for failed attempts too.
	Debug string
}

type Client struct {
	cfg Config
	log logrus.FieldLogger
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	return &Client{cfg: cfg, log: log}
}

// Send delivers m in one SMTP session. The receipt is returned even when
// sending fails so the transcript can be stored.
func (c *Client) Send(ctx context.Context, m *Message) (*Receipt, error) {
	receipt := &Receipt{}

	data, err := Compose(m)
	if err != nil {
		return receipt, err
	}
	rcpts, err := recipients(m)
	if err != nil {
		return receipt, err
	}

	if err := ctx.Err(); err != nil {
		return receipt, err
	}

	var transcript bytes.Buffer
	err = c.deliver(m.From, rcpts, data, &transcript, receipt)
	receipt.Debug = transcript.String()

	log := c.log.WithFields(logrus.Fields{"from": m.From, "to": m.To, "subject": m.Subject})
	if err != nil {
		log.WithError(err).Warn("SMTP delivery failed")
		return receipt, err
	}
	log.WithField("response", receipt.Response).Info("SMTP delivery accepted")
	return receipt, nil
}

func (c *Client) deliver(from string, to []string, data []byte, transcript *bytes.Buffer, receipt *Receipt) error {
	cl, err := c.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", c.cfg.Address, err)
	}
	defer cl.Close()

	cl.DebugWriter = transcript
	if c.cfg.Timeout > 0 {
		cl.CommandTimeout = c.cfg.Timeout
		cl.SubmissionTimeout = c.cfg.Timeout
	}

	if c.cfg.Username != "" {
		if err := cl.Auth(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := cl.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range to {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := cl.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	receipt.Response = fmt.Sprintf("%d %s", resp.StatusCode, resp.StatusText)

	if err := cl.Quit(); err != nil {
		c.log.WithError(err).Debug("SMTP QUIT failed after accepted delivery")
	}
	return nil
}

func (c *Client) dial() (*smtp.Client, error) {
	tlsConfig := c.cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	switch c.cfg.TLSMode {
	case TLSImplicit:
		return smtp.DialTLS(c.cfg.Address, tlsConfig)
	case TLSStartTLS:
		return smtp.DialStartTLS(c.cfg.Address, tlsConfig)
	default:
		return smtp.Dial(c.cfg.Address)
	}
}
