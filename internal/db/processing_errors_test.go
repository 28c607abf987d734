package db

import (
	"context"
	"testing"

	"github.com/offpost/mailsync/internal/models"
	"github.com/offpost/mailsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmatchedRecords(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	thread := testutil.InsertThread(t, pool, "e1", "Target", "target@req.example")

	t.Run("upsert keyed by natural id", func(t *testing.T) {
		rec := &models.UnmatchedMessageRecord{
			NaturalID: "2024-01-01__000000__aaa", Subject: "Hello", Addresses: []string{"x@y.example"},
			Folder: "INBOX", ErrorType: models.UnmatchedErrorNoMatch, ErrorMessage: "no thread",
		}
		require.NoError(t, RecordOrUpdateUnmatched(ctx, pool, rec))
		firstID := rec.ID

		rec2 := *rec
		rec2.Addresses = []string{"x@y.example", "z@y.example"}
		require.NoError(t, RecordOrUpdateUnmatched(ctx, pool, &rec2))
		assert.Equal(t, firstID, rec2.ID)

		got, err := GetUnmatched(ctx, pool, firstID)
		require.NoError(t, err)
		assert.Equal(t, []string{"x@y.example", "z@y.example"}, got.Addresses)
	})

	t.Run("two distinct messages make two records", func(t *testing.T) {
		for _, id := range []string{"2024-01-02__000000__bbb", "2024-01-03__000000__ccc"} {
			require.NoError(t, RecordOrUpdateUnmatched(ctx, pool, &models.UnmatchedMessageRecord{
				NaturalID: id, ErrorType: models.UnmatchedErrorNoMatch,
			}))
		}
		open, err := ListUnmatched(ctx, pool, false)
		require.NoError(t, err)
		assert.Len(t, open, 3)
	})

	t.Run("resolve creates an override", func(t *testing.T) {
		open, err := ListUnmatched(ctx, pool, false)
		require.NoError(t, err)
		rec := open[0]

		require.NoError(t, ResolveUnmatched(ctx, pool, rec.ID, thread.ID, ""))

		override, err := GetOverride(ctx, pool, rec.NaturalID)
		require.NoError(t, err)
		assert.Equal(t, thread.ID, override.ThreadID)

		got, err := GetUnmatched(ctx, pool, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Resolved)
		assert.NotNil(t, got.ResolvedAt)

		assert.ErrorIs(t, ResolveUnmatched(ctx, pool, rec.ID, thread.ID, ""), ErrUnmatchedNotFound)
	})

	t.Run("resolve against unknown thread rolls back", func(t *testing.T) {
		open, err := ListUnmatched(ctx, pool, false)
		require.NoError(t, err)
		rec := open[0]

		err = ResolveUnmatched(ctx, pool, rec.ID, "00000000-0000-0000-0000-000000000000", "")
		assert.ErrorIs(t, err, ErrThreadNotFound)

		got, err := GetUnmatched(ctx, pool, rec.ID)
		require.NoError(t, err)
		assert.False(t, got.Resolved)
		_, err = GetOverride(ctx, pool, rec.NaturalID)
		assert.ErrorIs(t, err, ErrOverrideNotFound)
	})

	t.Run("dismiss and resolved records are not reopened", func(t *testing.T) {
		open, err := ListUnmatched(ctx, pool, false)
		require.NoError(t, err)
		rec := open[0]
		require.NoError(t, DismissUnmatched(ctx, pool, rec.ID, ""))

		again := &models.UnmatchedMessageRecord{NaturalID: rec.NaturalID, ErrorType: models.UnmatchedErrorNoMatch}
		require.NoError(t, RecordOrUpdateUnmatched(ctx, pool, again))

		got, err := GetUnmatched(ctx, pool, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Resolved)

		all, err := ListUnmatched(ctx, pool, true)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}
