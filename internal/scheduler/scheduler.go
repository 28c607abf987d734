// Package scheduler runs the sync jobs on cron schedules and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/offpost/mailsync/internal/metrics"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned by Trigger while the job is already running.
	ErrJobRunning = errors.New("job is already running")
)

// JobFunc runs one job and returns its result for the caller to report.
type JobFunc func(ctx context.Context) (any, error)

type job struct {
	name    string
	spec    string
	fn      JobFunc
	entryID cron.EntryID
	running sync.Mutex

	mu           sync.Mutex
	lastStarted  time.Time
	lastDuration time.Duration
	lastError    string
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name         string    `json:"name"`
	Spec         string    `json:"spec"`
	Next         time.Time `json:"next,omitempty"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	cron    *cron.Cron
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool
}

func New(m *metrics.Metrics, log logrus.FieldLogger) *Scheduler {
	cronLog := cron.PrintfLogger(log)
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		metrics: m,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    map[string]*job{},
	}
}

// Add registers fn under name. An empty spec registers a job that only
// runs through Trigger.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() {
			if _, err := s.run(s.ctx, j); err != nil && !errors.Is(err, ErrJobRunning) {
				s.log.WithError(err).WithField("job", name).Error("Scheduled job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		j.entryID = id
	}

	s.jobs[name] = j
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.WithField("jobs", len(s.jobs)).Info("Scheduler started")
}

// Stop cancels running jobs and waits for them up to the deadline of ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop in time: %w", ctx.Err())
	}
}

// Trigger runs the named job now and returns its result.
func (s *Scheduler) Trigger(ctx context.Context, name string) (any, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) (result any, err error) {
	if !j.running.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, j.name)
	}
	defer j.running.Unlock()

	started := time.Now()
	log := s.log.WithField("job", j.name)
	log.Debug("Job started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}

		elapsed := time.Since(started)
		s.metrics.RunDuration.WithLabelValues(j.name).Observe(elapsed.Seconds())

		j.mu.Lock()
		j.lastStarted = started
		j.lastDuration = elapsed
		j.lastError = ""
		if err != nil {
			j.lastError = err.Error()
		}
		j.mu.Unlock()

		log.WithField("duration", elapsed).Debug("Job finished")
	}()

	return j.fn(ctx)
}

// Status lists all jobs by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.name, Spec: j.spec}
		if j.entryID != 0 {
			st.Next = s.cron.Entry(j.entryID).Next
		}

		j.mu.Lock()
		st.LastStarted = j.lastStarted
		if j.lastDuration > 0 {
			st.LastDuration = j.lastDuration.String()
		}
		st.LastError = j.lastError
		j.mu.Unlock()

		statuses = append(statuses, st)
	}

	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Name < statuses[k].Name })
	return statuses
}
