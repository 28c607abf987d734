package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offpost/mailsync/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(t.TempDir(), log)
}

func testEmail(naturalID, hash string, received time.Time) *models.Email {
	return &models.Email{
		NaturalID:         naturalID,
		Direction:         models.DirectionIn,
		Subject:           "Subject " + naturalID,
		TimestampReceived: received,
		DateTime:          received,
		StatusType:        models.StatusTypeUnknown,
		Content:           []byte("raw " + naturalID + " " + hash),
		ContentHash:       hash,
		Attachments: []models.Attachment{
			{Name: "a.txt", Location: "1-abc.txt", Content: []byte("attachment")},
		},
	}
}

func TestLease(t *testing.T) {
	dir := t.TempDir()

	lease, err := Acquire(dir)
	require.NoError(t, err)

	_, err = Acquire(dir)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	require.NoError(t, lease.Release())
	assert.NoFileExists(t, filepath.Join(dir, lockFile))

	again, err := Acquire(dir)
	require.NoError(t, err)

	t.Run("release does not remove a lock it does not own", func(t *testing.T) {
		err := lease.Release()
		assert.Error(t, err)
		assert.FileExists(t, filepath.Join(dir, lockFile))
	})

	require.NoError(t, again.Release())
}

func TestStoreSave(t *testing.T) {
	ctx := context.Background()
	thread := &models.Thread{ID: "thread-1", EntityID: "e1", Title: "Records", MyEmail: "x@example.com", Labels: []string{}}

	t.Run("writes message, attachments and sidecar", func(t *testing.T) {
		s := newStore(t)
		email := testEmail("2024-01-02__030405__aa", "h1", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

		saved, err := s.Save(ctx, thread, email)
		require.NoError(t, err)
		assert.True(t, saved)

		dir := s.ThreadDir(thread.ID)
		assert.FileExists(t, filepath.Join(dir, email.NaturalID+".eml"))
		assert.FileExists(t, filepath.Join(dir, email.NaturalID+".json"))
		assert.FileExists(t, filepath.Join(dir, email.NaturalID+"-1-abc.txt"))
		assert.NoFileExists(t, filepath.Join(dir, lockFile))

		raw, err := s.LoadEmail(thread.ID, email.NaturalID)
		require.NoError(t, err)
		assert.Equal(t, email.Content, raw)
	})

	t.Run("identical message is skipped", func(t *testing.T) {
		s := newStore(t)
		received := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

		saved, err := s.Save(ctx, thread, testEmail("id", "h1", received))
		require.NoError(t, err)
		assert.True(t, saved)

		saved, err = s.Save(ctx, thread, testEmail("id", "h1", received))
		require.NoError(t, err)
		assert.False(t, saved)

		stored, err := s.LoadThread(thread.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Emails, 1)
	})

	t.Run("colliding identifier gets a suffix", func(t *testing.T) {
		s := newStore(t)
		received := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

		_, err := s.Save(ctx, thread, testEmail("id", "h1", received))
		require.NoError(t, err)

		second := testEmail("id", "h2", received)
		saved, err := s.Save(ctx, thread, second)
		require.NoError(t, err)
		assert.True(t, saved)
		assert.Equal(t, "id__2", second.NaturalID)
	})

	t.Run("thread file keeps emails sorted and labelled", func(t *testing.T) {
		s := newStore(t)
		for i, day := range []int{5, 1, 3} {
			email := testEmail(string(rune('a'+i)), "h", time.Date(2024, 2, day, 0, 0, 0, 0, time.UTC))
			_, err := s.Save(ctx, thread, email)
			require.NoError(t, err)
		}

		stored, err := s.LoadThread(thread.ID)
		require.NoError(t, err)
		require.Len(t, stored.Emails, 3)
		assert.Equal(t, []string{"b", "c", "a"}, []string{stored.Emails[0].NaturalID, stored.Emails[1].NaturalID, stored.Emails[2].NaturalID})
		assert.True(t, stored.HasLabel(models.LabelUnclassified))
	})

	t.Run("locked thread directory fails fast", func(t *testing.T) {
		s := newStore(t)
		dir := s.ThreadDir(thread.ID)
		require.NoError(t, os.MkdirAll(dir, 0o750))

		lease, err := Acquire(dir)
		require.NoError(t, err)
		defer lease.Release()

		email := testEmail("locked", "h1", time.Now())
		_, err = s.Save(ctx, thread, email)
		assert.ErrorIs(t, err, ErrConcurrencyConflict)
		assert.NoFileExists(t, filepath.Join(dir, "locked.eml"))
	})
}
