package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/pkg/models"
)

var (
	// ErrJobNotFound is returned when no job has the given id.
	ErrJobNotFound = errors.New("cron: job not found")

	// ErrNotOwner is returned when an owner-scoped operation targets
	// a job that belongs to someone else.
	ErrNotOwner = errors.New("cron: job belongs to another owner")
)

// Publisher is the bus as seen by the scheduler: synthetic inbound
// messages for agent jobs, direct outbound for deliver jobs.
type Publisher interface {
	Publish(msg *models.InboundMessage)
	PublishOutbound(msg *models.OutboundMessage)
}

// Scheduler holds all jobs in memory and persists the full set on
// every mutation. A 1 second tick fires due jobs.
type Scheduler struct {
	logger       *slog.Logger
	store        *FileStore
	publisher    Publisher
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    map[string]*models.CronJob
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler loads persisted jobs and recomputes their next fire
// times. Past one-shots are kept and fire on the first tick.
func NewScheduler(store *FileStore, publisher Publisher, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		logger:       slog.Default().With("component", "cron"),
		store:        store,
		publisher:    publisher,
		now:          time.Now,
		tickInterval: time.Second,
		jobs:         make(map[string]*models.CronJob),
	}
	for _, opt := range opts {
		opt(s)
	}

	jobs, err := store.Load()
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, job := range jobs {
		if job == nil || job.ID == "" {
			continue
		}
		if job.Enabled {
			s.recomputeNext(job, now)
		}
		s.jobs[job.ID] = job
	}
	return s, nil
}

// recomputeNext refreshes NextFireAtMs after a restart. Fires missed
// while the process was down are delivered once on the first tick:
// one-shots keep their original time and interval jobs keep a stored
// past value. Cron expressions always resolve against the current
// clock.
func (s *Scheduler) recomputeNext(job *models.CronJob, now time.Time) {
	switch job.Schedule.Kind {
	case models.ScheduleAt:
		job.NextFireAtMs = job.Schedule.AtMs
		return
	case models.ScheduleEvery:
		if job.NextFireAtMs > 0 {
			return
		}
	}
	next, ok, err := NextFire(job.Schedule, now)
	if err != nil || !ok {
		s.logger.Warn("job has no next fire, disabling", "id", job.ID, "error", err)
		job.Enabled = false
		job.NextFireAtMs = 0
		return
	}
	job.NextFireAtMs = next.UnixMilli()
}

// Start begins the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

// Stop waits for the tick loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fires all due jobs and returns how many fired.
func (s *Scheduler) RunOnce() int {
	now := s.now()
	fired := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	mutated := false
	for _, job := range s.jobs {
		if !job.Enabled || job.NextFireAtMs == 0 || now.UnixMilli() < job.NextFireAtMs {
			continue
		}
		s.fire(job, now)
		fired++
		mutated = true
	}
	if mutated {
		s.persistLocked()
	}
	return fired
}

// fire publishes the job's payload and advances or removes it.
// Caller holds the mutex.
func (s *Scheduler) fire(job *models.CronJob, now time.Time) {
	observability.CronFires.Inc()
	job.LastFireAtMs = now.UnixMilli()
	s.logger.Info("job fired", "id", job.ID, "name", job.Name)

	if job.Payload.Deliver && job.Payload.TargetChannel != "" && job.Payload.TargetChatID != "" {
		s.publisher.PublishOutbound(&models.OutboundMessage{
			Channel: job.Payload.TargetChannel,
			ChatID:  job.Payload.TargetChatID,
			Content: job.Payload.Message,
		})
	} else {
		s.publisher.Publish(&models.InboundMessage{
			Channel:      models.ChannelSystem,
			ChatID:       "cron:" + job.ID,
			SenderID:     "cron:" + job.ID,
			Content:      job.Payload.Message,
			ReceivedAtMs: now.UnixMilli(),
		})
	}

	if job.Schedule.Kind == models.ScheduleAt || job.DeleteAfterRun {
		delete(s.jobs, job.ID)
		return
	}
	next, ok, err := NextFire(job.Schedule, now)
	if err != nil || !ok {
		s.logger.Warn("job has no next fire, disabling", "id", job.ID, "error", err)
		job.Enabled = false
		job.NextFireAtMs = 0
		return
	}
	job.NextFireAtMs = next.UnixMilli()
}

// Add validates and persists a new job. Missing id, creation time,
// and next fire time are filled in. At jobs are one-shot.
func (s *Scheduler) Add(job *models.CronJob) error {
	if job == nil {
		return fmt.Errorf("cron: job is nil")
	}
	if strings.TrimSpace(job.Payload.Message) == "" {
		return fmt.Errorf("cron: job message is required")
	}
	if err := ValidateSchedule(job.Schedule); err != nil {
		return err
	}
	now := s.now()
	if job.Schedule.Kind == models.ScheduleAt {
		if job.Schedule.AtMs <= now.UnixMilli() {
			return fmt.Errorf("cron: at time must be in the future")
		}
		job.DeleteAfterRun = true
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAtMs == 0 {
		job.CreatedAtMs = now.UnixMilli()
	}
	job.Enabled = true
	next, ok, err := NextFire(job.Schedule, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cron: schedule never fires")
	}
	job.NextFireAtMs = next.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("cron: job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return s.persistLocked()
}

// Update applies a mutation to a job. Identity fields and stored
// state survive the mutation; the schedule is revalidated and the
// next fire time recomputed.
func (s *Scheduler) Update(id, owner string, apply func(job *models.CronJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(id, owner)
	if err != nil {
		return err
	}
	updated := *job
	apply(&updated)
	updated.ID = job.ID
	updated.Owner = job.Owner
	updated.CreatedAtMs = job.CreatedAtMs
	updated.State = job.State

	if strings.TrimSpace(updated.Payload.Message) == "" {
		return fmt.Errorf("cron: job message is required")
	}
	if err := ValidateSchedule(updated.Schedule); err != nil {
		return err
	}
	now := s.now()
	if updated.Schedule.Kind == models.ScheduleAt {
		if updated.Schedule.AtMs <= now.UnixMilli() {
			return fmt.Errorf("cron: at time must be in the future")
		}
		updated.DeleteAfterRun = true
	}
	if updated.Enabled {
		next, ok, err := NextFire(updated.Schedule, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cron: schedule never fires")
		}
		updated.NextFireAtMs = next.UnixMilli()
	} else {
		updated.NextFireAtMs = 0
	}

	s.jobs[id] = &updated
	return s.persistLocked()
}

// Remove deletes a job.
func (s *Scheduler) Remove(id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupLocked(id, owner); err != nil {
		return err
	}
	delete(s.jobs, id)
	return s.persistLocked()
}

// SetEnabled enables or disables a job, recomputing the next fire
// time on enable.
func (s *Scheduler) SetEnabled(id, owner string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(id, owner)
	if err != nil {
		return err
	}
	job.Enabled = enabled
	if enabled {
		s.recomputeNext(job, s.now())
	} else {
		job.NextFireAtMs = 0
	}
	return s.persistLocked()
}

// RunNow fires a job immediately regardless of its schedule.
func (s *Scheduler) RunNow(id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(id, owner)
	if err != nil {
		return err
	}
	s.fire(job, s.now())
	return s.persistLocked()
}

// Get returns a copy of a job.
func (s *Scheduler) Get(id, owner string) (*models.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.lookupLocked(id, owner)
	if err != nil {
		return nil, err
	}
	copied := *job
	return &copied, nil
}

// List returns copies of all jobs visible to owner, ordered by
// creation time. An empty owner sees everything.
func (s *Scheduler) List(owner string) []*models.CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if owner != "" && job.Owner != owner {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear removes all jobs visible to owner and returns how many.
func (s *Scheduler) Clear(owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if owner != "" && job.Owner != owner {
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}

// lookupLocked resolves a job and enforces owner scoping. An empty
// owner (CLI) is unrestricted. Caller holds the mutex.
func (s *Scheduler) lookupLocked(id, owner string) (*models.CronJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if owner != "" && job.Owner != owner {
		return nil, ErrNotOwner
	}
	return job, nil
}

// persistLocked writes the full job set. Caller holds the mutex.
func (s *Scheduler) persistLocked() error {
	jobs := make([]*models.CronJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	if err := s.store.Save(jobs); err != nil {
		s.logger.Error("job persistence failed", "error", err)
		return err
	}
	return nil
}
