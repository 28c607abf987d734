package db

import (
	"context"
	"testing"
	"time"

	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderStatus(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()

	active := testutil.InsertThread(t, pool, "e1", "Active", "active@req.example")
	other := testutil.InsertThread(t, pool, "e1", "Other", "other@req.example")
	archived := testutil.InsertThread(t, pool, "e1", "Archived", "archived@req.example")
	require.NoError(t, SetThreadArchived(ctx, pool, archived.ID, true))

	require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Active", FolderStatusUpdate{ThreadID: &active.ID}))
	require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Other", FolderStatusUpdate{ThreadID: &other.ID}))
	require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.Archive.e1 - Archived", FolderStatusUpdate{ThreadID: &archived.ID}))

	t.Run("never checked folders go first", func(t *testing.T) {
		require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Active", FolderStatusUpdate{MarkChecked: true}))

		next, err := NextFolderToCheck(ctx, pool, "INBOX.Archive.")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "INBOX.e1 - Other", next.FolderName)
	})

	t.Run("pending update request wins", func(t *testing.T) {
		require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Other", FolderStatusUpdate{MarkChecked: true}))
		require.NoError(t, RequestFolderUpdate(ctx, pool, "INBOX.e1 - Active"))

		next, err := NextFolderToCheck(ctx, pool, "INBOX.Archive.")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "INBOX.e1 - Active", next.FolderName)
		assert.NotNil(t, next.RequestedUpdateTime)
	})

	t.Run("mark checked clears a satisfied request", func(t *testing.T) {
		require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Active", FolderStatusUpdate{
			MarkChecked:    true,
			CheckStartedAt: time.Now().Add(time.Minute),
		}))

		status, err := GetFolderStatus(ctx, pool, "INBOX.e1 - Active")
		require.NoError(t, err)
		assert.Nil(t, status.RequestedUpdateTime)
		assert.NotNil(t, status.LastCheckedAt)
		require.NotNil(t, status.ThreadID)
		assert.Equal(t, active.ID, *status.ThreadID)
	})

	t.Run("a request newer than the run survives", func(t *testing.T) {
		started := time.Now().Add(-time.Minute)
		require.NoError(t, RequestFolderUpdate(ctx, pool, "INBOX.e1 - Other"))
		require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - Other", FolderStatusUpdate{MarkChecked: true, CheckStartedAt: started}))

		status, err := GetFolderStatus(ctx, pool, "INBOX.e1 - Other")
		require.NoError(t, err)
		assert.NotNil(t, status.RequestedUpdateTime)
	})

	t.Run("archived threads are never selected", func(t *testing.T) {
		statuses, err := ListFolderStatuses(ctx, pool)
		require.NoError(t, err)
		assert.Len(t, statuses, 3)

		for i := 0; i < 3; i++ {
			next, err := NextFolderToCheck(ctx, pool, "INBOX.Archive.")
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.NotEqual(t, "INBOX.Archive.e1 - Archived", next.FolderName)
			require.NoError(t, UpsertFolderStatus(ctx, pool, next.FolderName, FolderStatusUpdate{MarkChecked: true, CheckStartedAt: time.Now().Add(time.Minute)}))
		}
	})

	t.Run("rename moves the row", func(t *testing.T) {
		require.NoError(t, RenameFolderStatus(ctx, pool, "INBOX.e1 - Other", "INBOX.Archive.e1 - Other"))
		status, err := GetFolderStatus(ctx, pool, "INBOX.e1 - Other")
		require.NoError(t, err)
		assert.Nil(t, status)
		status, err = GetFolderStatus(ctx, pool, "INBOX.Archive.e1 - Other")
		require.NoError(t, err)
		require.NotNil(t, status)
	})

	t.Run("log lifecycle", func(t *testing.T) {
		id, err := AppendLog(ctx, pool, "INBOX.e1 - Active", models.LogStatusStarted, "Received 0 emails")
		require.NoError(t, err)
		require.NoError(t, UpdateLog(ctx, pool, id, models.LogStatusSuccess, "Saved 2 emails", "debug"))

		entries, err := ListLogs(ctx, pool, "INBOX.e1 - Active", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, models.LogStatusSuccess, entries[0].Status)
		assert.Equal(t, "debug", entries[0].DebugOutput)

		assert.Error(t, UpdateLog(ctx, pool, id+1000, models.LogStatusError, "x", ""))
	})
}

func TestNextFolderToCheckAfterFailedAttempts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	const archive = "INBOX.Archive."

	failing := testutil.InsertThread(t, pool, "e1", "A failing", "failing@req.example")
	healthy := testutil.InsertThread(t, pool, "e1", "B healthy", "healthy@req.example")
	require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - A failing", FolderStatusUpdate{ThreadID: &failing.ID}))
	require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - B healthy", FolderStatusUpdate{ThreadID: &healthy.ID}))

	next := func(t *testing.T) string {
		t.Helper()
		status, err := NextFolderToCheck(ctx, pool, archive)
		require.NoError(t, err)
		require.NotNil(t, status)
		return status.FolderName
	}

	t.Run("attempted folder falls behind untouched ones", func(t *testing.T) {
		assert.Equal(t, "INBOX.e1 - A failing", next(t))
		require.NoError(t, MarkFolderAttempted(ctx, pool, "INBOX.e1 - A failing", time.Now()))

		assert.Equal(t, "INBOX.e1 - B healthy", next(t))

		status, err := GetFolderStatus(ctx, pool, "INBOX.e1 - A failing")
		require.NoError(t, err)
		assert.NotNil(t, status.LastAttemptedAt)
		assert.Nil(t, status.LastCheckedAt)
	})

	t.Run("request made after an attempt is served", func(t *testing.T) {
		require.NoError(t, RequestFolderUpdate(ctx, pool, "INBOX.e1 - A failing"))
		assert.Equal(t, "INBOX.e1 - A failing", next(t))
	})

	t.Run("failed attempt on a requested folder lets others through", func(t *testing.T) {
		require.NoError(t, MarkFolderAttempted(ctx, pool, "INBOX.e1 - A failing", time.Now()))
		assert.Equal(t, "INBOX.e1 - B healthy", next(t))

		status, err := GetFolderStatus(ctx, pool, "INBOX.e1 - A failing")
		require.NoError(t, err)
		assert.NotNil(t, status.RequestedUpdateTime)
	})

	t.Run("folders take turns once both were touched", func(t *testing.T) {
		started := time.Now()
		require.NoError(t, MarkFolderAttempted(ctx, pool, "INBOX.e1 - B healthy", started))
		require.NoError(t, UpsertFolderStatus(ctx, pool, "INBOX.e1 - B healthy", FolderStatusUpdate{MarkChecked: true, CheckStartedAt: started}))

		assert.Equal(t, "INBOX.e1 - A failing", next(t))
	})
}
