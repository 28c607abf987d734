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

func TestEmails(t *testing.T) {
	pool := testutil.NewTestDB(t)
	ctx := context.Background()
	thread := testutil.InsertThread(t, pool, "e1", "Emails", "emails@req.example")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insert := func(t *testing.T, naturalID string, ts time.Time) *models.Email {
		t.Helper()
		email := &models.Email{
			ThreadID:          thread.ID,
			NaturalID:         naturalID,
			Direction:         models.DirectionIn,
			TimestampReceived: ts,
			DateTime:          ts,
			Content:           []byte("raw " + naturalID),
			ContentHash:       "hash-" + naturalID,
		}
		require.NoError(t, InsertEmail(ctx, pool, email))
		return email
	}

	later := insert(t, "2024-05-01__130000__b", base.Add(time.Hour))
	earlier := insert(t, "2024-05-01__120000__a", base)

	t.Run("hash lookup", func(t *testing.T) {
		hash, found, err := GetEmailContentHash(ctx, pool, thread.ID, earlier.NaturalID)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "hash-"+earlier.NaturalID, hash)

		_, found, err = GetEmailContentHash(ctx, pool, thread.ID, "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("natural id is unique per thread", func(t *testing.T) {
		dup := &models.Email{
			ThreadID: thread.ID, NaturalID: earlier.NaturalID, Direction: models.DirectionIn,
			TimestampReceived: base, DateTime: base, Content: []byte("x"), ContentHash: "x",
		}
		assert.Error(t, InsertEmail(ctx, pool, dup))
	})

	t.Run("attachments and ordering", func(t *testing.T) {
		att := &models.Attachment{
			EmailID: later.ID, Name: "report.pdf", Filename: "report.pdf", FileType: "pdf",
			Location: "1-abc.pdf", SizeBytes: 3, Content: []byte("pdf"),
		}
		require.NoError(t, InsertAttachment(ctx, pool, att))

		emails, err := ListThreadEmails(ctx, pool, thread.ID)
		require.NoError(t, err)
		require.Len(t, emails, 2)
		assert.Equal(t, earlier.NaturalID, emails[0].NaturalID)
		assert.Equal(t, later.NaturalID, emails[1].NaturalID)
		require.Len(t, emails[1].Attachments, 1)
		assert.Equal(t, "1-abc.pdf", emails[1].Attachments[0].Location)

		content, err := GetAttachmentContent(ctx, pool, later.ID, "1-abc.pdf")
		require.NoError(t, err)
		assert.Equal(t, []byte("pdf"), content)
	})
}
