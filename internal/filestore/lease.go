package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrConcurrencyConflict means another run holds the thread directory.
var ErrConcurrencyConflict = errors.New("thread directory is locked by another run")

const lockFile = ".lock"

// Lease is the exclusive right to write one thread directory.
type Lease struct {
	path  string
	owner string
}

// Acquire creates the lock file in dir. It fails fast with
// ErrConcurrencyConflict when the file already exists.
func Acquire(dir string) (*Lease, error) {
	path := filepath.Join(dir, lockFile)
	owner := uuid.NewString()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrencyConflict, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := fmt.Fprintf(f, "%s %s\n", owner, time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lease{path: path, owner: owner}, nil
}

// Release removes the lock file if this lease still owns it.
func (l *Lease) Release() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	if !strings.HasPrefix(string(data), l.owner+" ") {
		return fmt.Errorf("lock file %s is owned by another run", l.path)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
