package imap

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/offpost/mailsync/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(server *testutil.TestIMAPServer) Config {
	return Config{
		Address:     server.Address,
		UseTLS:      false,
		Username:    server.Username(),
		Password:    server.Password(),
		DialTimeout: 2 * time.Second,
		Retry:       RetryPolicy{Attempts: 2, Delay: 10 * time.Millisecond},
	}
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestConnection(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	ctx := context.Background()
	conn, err := Open(ctx, testConfig(server), quietLogger())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	t.Run("create and list folders", func(t *testing.T) {
		require.NoError(t, conn.CreateFolder(ctx, "INBOX.e1 - Thread"))

		folders, err := conn.ListFolders(ctx)
		require.NoError(t, err)
		assert.Contains(t, folders, "INBOX")
		assert.Contains(t, folders, "INBOX.e1 - Thread")
	})

	t.Run("search fetch and move", func(t *testing.T) {
		server.EmptyFolder(t, "INBOX")
		uid := server.AddMessage(t, "INBOX", "<m1@example.org>", "Hello", "entity@gov.example", "me@req.example",
			time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC))

		uids, err := conn.SearchUIDs(ctx, "INBOX")
		require.NoError(t, err)
		assert.Equal(t, []uint32{uid}, uids)

		raw, err := conn.FetchRaw(ctx, "INBOX", uid)
		require.NoError(t, err)
		assert.Equal(t, uid, raw.UID)
		assert.Contains(t, string(raw.Body), "Subject: Hello")
		assert.False(t, raw.InternalDate.IsZero())

		require.NoError(t, conn.Move(ctx, "INBOX", uid, "INBOX.e1 - Thread"))

		uids, err = conn.SearchUIDs(ctx, "INBOX")
		require.NoError(t, err)
		assert.Empty(t, uids)
		assert.Len(t, server.FolderUIDs(t, "INBOX.e1 - Thread"), 1)
	})

	t.Run("fetching a missing uid is terminal", func(t *testing.T) {
		_, err := conn.FetchRaw(ctx, "INBOX", 9999)
		require.Error(t, err)
		assert.True(t, IsTerminal(err))
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("selecting a missing folder is terminal", func(t *testing.T) {
		_, err := conn.SearchUIDs(ctx, "INBOX.does-not-exist")
		require.Error(t, err)

		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, Terminal, te.Kind)
		assert.Equal(t, 1, te.Attempts, "terminal errors are not retried")
		assert.ErrorIs(t, err, ErrMailboxNotFound)
	})

	t.Run("rename", func(t *testing.T) {
		require.NoError(t, conn.RenameFolder(ctx, "INBOX.e1 - Thread", "INBOX.Archive.e1 - Thread"))
		folders, err := conn.ListFolders(ctx)
		require.NoError(t, err)
		assert.Contains(t, folders, "INBOX.Archive.e1 - Thread")
		assert.NotContains(t, folders, "INBOX.e1 - Thread")
	})
}

func TestOpen(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	t.Run("bad credentials are terminal", func(t *testing.T) {
		cfg := testConfig(server)
		cfg.Password = "wrong"
		cfg.Retry.Attempts = 3

		_, err := Open(context.Background(), cfg, quietLogger())
		require.Error(t, err)
		assert.True(t, IsTerminal(err))
		assert.ErrorIs(t, err, ErrBadCredentials)

		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 1, te.Attempts)
	})

	t.Run("unreachable server is transient and retried", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := listener.Addr().String()
		require.NoError(t, listener.Close())

		cfg := testConfig(server)
		cfg.Address = addr
		cfg.Retry = RetryPolicy{Attempts: 3, Delay: time.Millisecond}

		_, err = Open(context.Background(), cfg, quietLogger())
		require.Error(t, err)

		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, Transient, te.Kind)
		assert.Equal(t, 3, te.Attempts)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		op   string
		err  error
		kind ErrorKind
		is   error
	}{
		{name: "eof is transient", op: opFetch, err: io.EOF, kind: Transient},
		{name: "closed connection is transient", op: opLogin, err: net.ErrClosed, kind: Transient},
		{name: "login rejection is terminal", op: opLogin, err: errors.New("Bad username or password"), kind: Terminal, is: ErrBadCredentials},
		{name: "select rejection is terminal", op: opSelect, err: errors.New("No such mailbox"), kind: Terminal, is: ErrMailboxNotFound},
		{name: "server NO on move is transient", op: opMove, err: errors.New("try again"), kind: Transient},
		{name: "missing message is terminal", op: opFetch, err: ErrMessageNotFound, kind: Terminal, is: ErrMessageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := classify(tt.op, tt.err)
			assert.Equal(t, tt.kind, te.Kind)
			assert.Equal(t, tt.op, te.Op)
			if tt.is != nil {
				assert.ErrorIs(t, te, tt.is)
			}
			assert.Same(t, te, classify("other", te), "classification happens once")
		})
	}
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{delay: time.Second, increment: 500 * time.Millisecond}
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 1500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}
