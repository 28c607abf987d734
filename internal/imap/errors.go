package imap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind tells callers whether retrying an operation can help.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Terminal
)

func (k ErrorKind) String() string {
	if k == Terminal {
		return "terminal"
	}
	return "transient"
}

var (
	// ErrBadCredentials is a terminal login rejection.
	ErrBadCredentials = errors.New("imap credentials rejected")
	// ErrMailboxNotFound is a terminal select or rename failure.
	ErrMailboxNotFound = errors.New("imap mailbox not found")
	// ErrMessageNotFound is returned when a UID has no message in the selected folder.
	ErrMessageNotFound = errors.New("imap message not found")
)

// TransportError is the only error type returned by Connection methods.
type TransportError struct {
	Op       string
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("imap %s failed (%s, %d attempt(s)): %v", e.Op, e.Kind, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a TransportError that must not be retried.
func IsTerminal(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == Terminal
}

// isNetworkError reports whether err means the session itself is gone.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}

// classify wraps err once, at the call that produced it. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	if isNetworkError(err) {
		return &TransportError{Op: op, Kind: Transient, Err: err}
	}

	switch op {
	case opLogin:
		return &TransportError{Op: op, Kind: Terminal, Err: fmt.Errorf("%w: %v", ErrBadCredentials, err)}
	case opSelect, opRename:
		return &TransportError{Op: op, Kind: Terminal, Err: fmt.Errorf("%w: %v", ErrMailboxNotFound, err)}
	}

	if errors.Is(err, ErrMessageNotFound) {
		return &TransportError{Op: op, Kind: Terminal, Err: err}
	}

	return &TransportError{Op: op, Kind: Transient, Err: err}
}
