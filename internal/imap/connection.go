package imap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// Connection is one logical IMAP session. It reconnects transparently after
// transient failures and remembers the selected folder so repeated calls on
// the same folder do not reselect it.
type Connection struct {
	cfg Config
	log logrus.FieldLogger

	mu       sync.Mutex
	client   *client.Client
	selected string
}

// Open connects and logs in. Bad credentials fail immediately; network
// problems are retried according to cfg.Retry.
func Open(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Connection, error) {
	c := &Connection{cfg: cfg, log: log}

	err := c.do(ctx, opConnect, func(*client.Client) error { return nil })
	if err != nil {
		return nil, err
	}

	return c, nil
}

// do runs fn against a live session with retries. fn errors are classified
// with op unless fn already classified them.
func (c *Connection) do(ctx context.Context, op string, fn func(cl *client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := 0
	operation := func() error {
		attempts++

		cl, err := c.ensureClient()
		if err == nil {
			err = fn(cl)
		}
		if err == nil {
			return nil
		}

		te := classify(op, err)
		if isNetworkError(te.Err) {
			c.dropClient()
		}
		if te.Kind == Terminal {
			return backoff.Permanent(te)
		}
		return te
	}

	notify := func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempts,
			"wait":    wait,
		}).WithError(err).Warn("IMAP operation failed, retrying")
	}

	err := backoff.RetryNotify(operation, c.cfg.Retry.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	var te *TransportError
	if errors.As(err, &te) {
		te.Attempts = attempts
		return te
	}
	// context cancellation surfaces here
	return &TransportError{Op: op, Kind: Terminal, Attempts: attempts, Err: err}
}

// ensureClient returns the live client, dialing and logging in when there is none.
// Caller must hold c.mu.
func (c *Connection) ensureClient() (*client.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	cl, err := connectToIMAP(c.cfg.Address, c.cfg.UseTLS, c.cfg.DialTimeout)
	if err != nil {
		return nil, classify(opConnect, err)
	}

	if err := login(cl, c.cfg.Username, c.cfg.Password); err != nil {
		return nil, err
	}

	c.client = cl
	c.selected = ""
	return cl, nil
}

// dropClient forgets the current session so the next attempt reconnects.
// Caller must hold c.mu.
func (c *Connection) dropClient() {
	if c.client != nil {
		_ = c.client.Terminate()
	}
	c.client = nil
	c.selected = ""
}

// selectFolder selects folder read-write unless it is already selected.
// Caller must hold c.mu.
func (c *Connection) selectFolder(cl *client.Client, folder string) error {
	if c.selected == folder {
		return nil
	}

	if _, err := cl.Select(folder, false); err != nil {
		c.selected = ""
		return classify(opSelect, err)
	}

	c.selected = folder
	return nil
}

// Close logs out. The connection cannot be used afterwards.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Logout()
	c.client = nil
	c.selected = ""
	if err != nil && !isNetworkError(err) {
		return classify("logout", err)
	}
	return nil
}
