package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultInterval = 5 * time.Minute

// Scheduler runs one periodic poll job per device on a shared cron.
// A device job never overlaps with itself; a tick arriving while the
// previous run is still busy is skipped.
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    map[string]scheduledJob
	started bool
}

type scheduledJob struct {
	entry cron.EntryID
	run   cron.Job
}

func New(interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		interval: interval,
		logger:   logger.With("component", "poller"),
		baseCtx:  ctx,
		cancel:   cancel,
		jobs:     make(map[string]scheduledJob),
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Schedule registers job for deviceID, replacing any previous entry.
func (s *Scheduler) Schedule(deviceID string, job func(ctx context.Context)) error {
	if job == nil {
		return fmt.Errorf("schedule %s: nil job", deviceID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[deviceID]; ok {
		s.cron.Remove(existing.entry)
		delete(s.jobs, deviceID)
	}

	ctx := s.baseCtx
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		job(ctx)
	}))
	entry, err := s.cron.AddJob(fmt.Sprintf("@every %s", s.interval), wrapped)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", deviceID, err)
	}
	s.jobs[deviceID] = scheduledJob{entry: entry, run: wrapped}
	s.logger.Debug("poll scheduled", "device_id", deviceID, "interval", s.interval.String())
	return nil
}

// Unschedule removes the device entry. Unknown ids are ignored.
func (s *Scheduler) Unschedule(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[deviceID]
	if !ok {
		return
	}
	s.cron.Remove(existing.entry)
	delete(s.jobs, deviceID)
	s.logger.Debug("poll unscheduled", "device_id", deviceID)
}

// Scheduled lists device ids with an active entry.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TriggerRefresh runs every scheduled job once in the background and
// returns how many were started. Jobs already running are skipped.
func (s *Scheduler) TriggerRefresh() int {
	s.mu.Lock()
	jobs := make([]cron.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.run)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		go job.Run()
	}
	s.logger.Info("poll refresh triggered", "jobs", len(jobs))
	return len(jobs)
}

// Start begins ticking. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts ticking, cancels the job context and waits for running jobs
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
