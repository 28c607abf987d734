package main

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/config"
	"github.com/offpost/mailsync/internal/filestore"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/saver"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "debug",
		IMAP: config.IMAPConfig{
			Host:          "imap.example.com",
			Port:          993,
			Root:          "INBOX",
			Delimiter:     ".",
			ArchiveFolder: "Archive",
			SentFolder:    "INBOX.Sent",
		},
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, TLSMode: "starttls"},
		Sync: config.SyncConfig{
			BatchSize:     50,
			MaxErrors:     5,
			MaxFolderName: 120,
			StorageMode:   config.StorageModeRelational,
		},
		Scheduler: config.SchedulerConfig{
			FolderSpec:  "*/15 * * * *",
			RouteSpec:   "* * * * *",
			ReceiveSpec: "* * * * *",
			SendSpec:    "",
		},
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("uses configured level", func(t *testing.T) {
		log := newLogger(testConfig())
		assert.Equal(t, logrus.DebugLevel, log.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
	})

	t.Run("production logs JSON", func(t *testing.T) {
		cfg := testConfig()
		cfg.Environment = "production"
		log := newLogger(cfg)
		assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		cfg := testConfig()
		cfg.LogLevel = "chatty"
		assert.Equal(t, logrus.InfoLevel, newLogger(cfg).GetLevel())
	})
}

func TestNewNamer(t *testing.T) {
	namer := newNamer(testConfig())
	assert.Equal(t, folders.Namer{Root: "INBOX", Delimiter: ".", ArchiveSegment: "Archive", MaxNameLength: 120}, namer)
	assert.Equal(t, "INBOX.Archive.", namer.ArchivePrefix())
}

func TestNewSink(t *testing.T) {
	log := logrus.New()

	cfg := testConfig()
	assert.IsType(t, &saver.DBSink{}, newSink(cfg, nil, log))

	cfg.Sync.StorageMode = config.StorageModeFile
	cfg.Sync.StorageDir = t.TempDir()
	assert.IsType(t, &filestore.Store{}, newSink(cfg, nil, log))
}

func TestNewScheduler(t *testing.T) {
	log := logrus.New()
	sched, err := newScheduler(testConfig(), nil, collab.NewStaticDirectory(), metrics.New(), log)
	require.NoError(t, err)

	statuses := sched.Status()
	require.Len(t, statuses, 4)

	specs := map[string]string{}
	for _, s := range statuses {
		specs[s.Name] = s.Spec
	}
	assert.Equal(t, map[string]string{
		"folders": "*/15 * * * *",
		"route":   "* * * * *",
		"receive": "* * * * *",
		"send":    "",
	}, specs)
}

type failingConnector struct{ err error }

func (c failingConnector) Connect(context.Context) (imap.Transport, error) {
	return nil, c.err
}

func TestSyncFoldersConnectError(t *testing.T) {
	boom := errors.New("connection refused")
	result, err := syncFolders(context.Background(), failingConnector{err: boom}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, result)
}
