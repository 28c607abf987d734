// Package filestore keeps threads as plain directory trees: one directory
// per thread holding each email as .eml with a JSON sidecar, its attachment
// files and a thread.json index.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/message"
	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/saver"
)

const threadFile = "thread.json"

type Store struct {
	root string
	log  logrus.FieldLogger
}

var _ saver.Sink = (*Store)(nil)

func New(root string, log logrus.FieldLogger) *Store {
	return &Store{root: root, log: log}
}

// ThreadDir is the directory that holds thread's files.
func (s *Store) ThreadDir(threadID string) string {
	return filepath.Join(s.root, threadID)
}

// Save writes email into the thread directory under the thread lease. The
// sidecar is written after the message and its attachments, so an email
// counts as stored only once it is complete.
func (s *Store) Save(ctx context.Context, thread *models.Thread, email *models.Email) (saved bool, err error) {
	dir := s.ThreadDir(thread.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("failed to create thread directory: %w", err)
	}

	lease, err := Acquire(dir)
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			s.log.WithError(rerr).WithField("thread_id", thread.ID).Error("Failed to release thread lock")
			if err == nil {
				err = rerr
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	id, duplicate, err := saver.ResolveNaturalID(email.NaturalID, email.ContentHash, func(id string) (string, bool, error) {
		return s.storedHash(dir, id)
	})
	if err != nil {
		return false, err
	}
	if duplicate {
		return false, nil
	}
	email.NaturalID = id
	email.ThreadID = thread.ID

	if err := writeFile(filepath.Join(dir, id+".eml"), email.Content); err != nil {
		return false, err
	}
	for i := range email.Attachments {
		a := &email.Attachments[i]
		if _, err := message.SaveToDisk(dir, id+"-"+a.Location, a.Content); err != nil {
			return false, err
		}
	}
	if err := writeJSON(filepath.Join(dir, id+".json"), email); err != nil {
		return false, err
	}

	if err := s.updateThread(dir, thread, *email); err != nil {
		return false, err
	}

	return true, nil
}

// storedHash reads the content hash from an email's sidecar.
func (s *Store) storedHash(dir, naturalID string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, naturalID+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var stored models.Email
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", false, fmt.Errorf("failed to decode sidecar %s: %w", naturalID, err)
	}
	return stored.ContentHash, true, nil
}

func (s *Store) updateThread(dir string, thread *models.Thread, email models.Email) error {
	stored, err := readThread(dir)
	if err != nil {
		return err
	}
	if stored == nil {
		t := *thread
		t.Emails = nil
		t.Labels = append([]string(nil), thread.Labels...)
		stored = &t
	}

	email.Content = nil
	for i := range email.Attachments {
		email.Attachments[i].Content = nil
	}
	stored.AppendEmail(email)
	stored.AddLabel(models.LabelUnclassified)

	return writeJSON(filepath.Join(dir, threadFile), stored)
}

// LoadThread returns the stored thread with its emails in receive order,
// or nil when nothing was stored for it yet.
func (s *Store) LoadThread(threadID string) (*models.Thread, error) {
	return readThread(s.ThreadDir(threadID))
}

// LoadEmail returns the raw message stored under naturalID.
func (s *Store) LoadEmail(threadID, naturalID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.ThreadDir(threadID), naturalID+".eml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read email %s: %w", naturalID, err)
	}
	return data, nil
}

func readThread(dir string) (*models.Thread, error) {
	data, err := os.ReadFile(filepath.Join(dir, threadFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thread file: %w", err)
	}

	var t models.Thread
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode thread file: %w", err)
	}
	return &t, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, data)
}

// writeFile replaces path through a temporary file and a rename.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
