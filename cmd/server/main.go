package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync"
	"github.com/offpost/mailsync/internal/api"
	"github.com/offpost/mailsync/internal/collab"
	"github.com/offpost/mailsync/internal/config"
	"github.com/offpost/mailsync/internal/db"
	"github.com/offpost/mailsync/internal/filestore"
	"github.com/offpost/mailsync/internal/folders"
	"github.com/offpost/mailsync/internal/imap"
	"github.com/offpost/mailsync/internal/metrics"
	"github.com/offpost/mailsync/internal/receiver"
	"github.com/offpost/mailsync/internal/router"
	"github.com/offpost/mailsync/internal/saver"
	"github.com/offpost/mailsync/internal/scheduler"
	"github.com/offpost/mailsync/internal/sender"
	"github.com/offpost/mailsync/internal/smtp"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := newLogger(cfg)
	log.WithField("environment", cfg.Environment).Info("Starting mail sync service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	if err := db.Migrate(ctx, pool, mailsync.Migrations); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	log.Info("Database ready")

	m := metrics.New()

	entities, err := collab.LoadDirectory(cfg.EntitiesFile)
	if err != nil {
		log.Fatalf("Failed to load entities: %v", err)
	}

	sched, err := newScheduler(cfg, pool, entities, m, log)
	if err != nil {
		log.Fatalf("Failed to register jobs: %v", err)
	}

	if cfg.Scheduler.Enabled {
		sched.Start()
		log.Info("Scheduler started")
	}

	queue := newSender(cfg, pool, m, log)
	handlers := api.NewHandlers(pool, sched, queue, m.Registry, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handlers, cfg.Server.AdminToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("address", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Scheduler did not stop in time")
	}
}

// newLogger logs JSON in production and text everywhere else.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.Environment == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

func newNamer(cfg *config.Config) folders.Namer {
	return folders.Namer{
		Root:           cfg.IMAP.Root,
		Delimiter:      cfg.IMAP.Delimiter,
		ArchiveSegment: cfg.IMAP.ArchiveFolder,
		MaxNameLength:  cfg.Sync.MaxFolderName,
	}
}

func newDialer(cfg *config.Config, log logrus.FieldLogger) *imap.Dialer {
	return imap.NewDialer(imap.Config{
		Address:     cfg.IMAP.Address(),
		UseTLS:      cfg.IMAP.UseTLS,
		Username:    cfg.IMAP.Username,
		Password:    cfg.IMAP.Password,
		DialTimeout: cfg.IMAP.DialTimeout,
		Retry: imap.RetryPolicy{
			Attempts:  cfg.IMAP.RetryAttempts,
			Delay:     cfg.IMAP.RetryDelay,
			Increment: cfg.IMAP.RetryIncrement,
		},
	}, log)
}

// newSink picks where received emails are persisted.
func newSink(cfg *config.Config, pool *pgxpool.Pool, log logrus.FieldLogger) saver.Sink {
	if cfg.Sync.StorageMode == config.StorageModeFile {
		return filestore.New(cfg.Sync.StorageDir, log)
	}
	return saver.NewDBSink(pool)
}

func newSender(cfg *config.Config, pool *pgxpool.Pool, m *metrics.Metrics, log *logrus.Logger) *sender.Sender {
	client := smtp.NewClient(smtp.Config{
		Address:  cfg.SMTP.Address(),
		TLSMode:  smtp.TLSMode(cfg.SMTP.TLSMode),
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  time.Minute,
	}, log)
	notifier := collab.NewLogNotifier(log, m.AdminNotices)

	return sender.New(pool, client, newNamer(cfg), collab.NewDBHistory(pool), notifier, m, log)
}

// newScheduler builds every component and registers the four jobs.
func newScheduler(cfg *config.Config, pool *pgxpool.Pool, entities collab.EntityDirectory, m *metrics.Metrics, log *logrus.Logger) (*scheduler.Scheduler, error) {
	namer := newNamer(cfg)
	dialer := newDialer(cfg, log)
	notifier := collab.NewLogNotifier(log, m.AdminNotices)

	manager := folders.NewManager(pool, namer, entities, notifier, m, log)
	route := router.New(pool, dialer, namer, notifier, m, log, router.Config{
		SourceFolders: []string{cfg.IMAP.Root, cfg.IMAP.SentFolder},
		BatchSize:     cfg.Sync.BatchSize,
		MaxErrors:     cfg.Sync.MaxErrors,
		DMARCAddress:  cfg.Sync.DMARCAddress,
	})
	recv := receiver.New(pool, dialer, saver.New(pool, newSink(cfg, pool, log), m, log), namer, notifier, log)
	send := newSender(cfg, pool, m, log)

	sched := scheduler.New(m, log)
	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{"folders", cfg.Scheduler.FolderSpec, func(ctx context.Context) (any, error) {
			return syncFolders(ctx, dialer, manager)
		}},
		{"route", cfg.Scheduler.RouteSpec, func(ctx context.Context) (any, error) {
			return route.Run(ctx)
		}},
		{"receive", cfg.Scheduler.ReceiveSpec, func(ctx context.Context) (any, error) {
			return recv.Run(ctx)
		}},
		{"send", cfg.Scheduler.SendSpec, func(ctx context.Context) (any, error) {
			return send.Run(ctx)
		}},
	}
	for _, j := range jobs {
		if err := sched.Add(j.name, j.spec, j.fn); err != nil {
			return nil, err
		}
	}

	return sched, nil
}

func syncFolders(ctx context.Context, connector imap.Connector, manager *folders.Manager) (*folders.SyncResult, error) {
	t, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.Close() }()

	return manager.SyncThreadFolders(ctx, t)
}
