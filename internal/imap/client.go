package imap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

const (
	opConnect = "connect"
	opLogin   = "login"
	opSelect  = "select"
	opList    = "list"
	opCreate  = "create"
	opRename  = "rename"
	opSearch  = "search"
	opFetch   = "fetch"
	opMove    = "move"
)

// Config holds what is needed to open an authenticated session.
type Config struct {
	Address     string
	UseTLS      bool
	Username    string
	Password    string
	DialTimeout time.Duration
	Retry       RetryPolicy
}

// Dialer opens Connections with a fixed configuration.
type Dialer struct {
	cfg Config
	log logrus.FieldLogger
}

func NewDialer(cfg Config, log logrus.FieldLogger) *Dialer {
	return &Dialer{cfg: cfg, log: log}
}

// Connect opens and authenticates a session, retrying transient failures.
func (d *Dialer) Connect(ctx context.Context) (Transport, error) {
	return Open(ctx, d.cfg, d.log)
}

// connectToIMAP dials the server. useTLS is false only against local test servers.
func connectToIMAP(address string, useTLS bool, timeout time.Duration) (*client.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout: timeout,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, address, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// login authenticates c, closing it on failure.
func login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		return classify(opLogin, fmt.Errorf("failed to authenticate: %w", err))
	}

	return nil
}
