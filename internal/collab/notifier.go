package collab

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// AdminNotifier tells the operator about failures that need a human.
type AdminNotifier interface {
	NotifyOfError(ctx context.Context, subject string, err error, fields logrus.Fields)
}

// LogNotifier reports to the structured log and counts notifications.
type LogNotifier struct {
	log     logrus.FieldLogger
	counter prometheus.Counter
}

var _ AdminNotifier = (*LogNotifier)(nil)

func NewLogNotifier(log logrus.FieldLogger, counter prometheus.Counter) *LogNotifier {
	return &LogNotifier{log: log, counter: counter}
}

func (n *LogNotifier) NotifyOfError(_ context.Context, subject string, err error, fields logrus.Fields) {
	if n.counter != nil {
		n.counter.Inc()
	}
	n.log.WithFields(fields).WithError(err).WithField("notify", "admin").Error(subject)
}

// Notice is one recorded notification.
type Notice struct {
	Subject string
	Err     error
	Fields  logrus.Fields
}

// RecordingNotifier keeps notifications in memory. Used in tests.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

var _ AdminNotifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) NotifyOfError(_ context.Context, subject string, err error, fields logrus.Fields) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Subject: subject, Err: err, Fields: fields})
}

func (n *RecordingNotifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}
