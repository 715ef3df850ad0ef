// Package scheduler implements the assistant's proactive triggers: fire a
// prompt or a reminder into a session at a specific time, on an interval,
// or on a cron schedule, even if the process was offline when a firing was
// due. It is the completed counterpart of a reference scheduler found
// elsewhere in the corpus whose cron wiring was left as a TODO; this
// version actually drives firings through robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind selects how a Job's Schedule field is interpreted.
type TriggerKind string

const (
	TriggerOnce     TriggerKind = "once"     // fire exactly once at Schedule (RFC3339 time)
	TriggerInterval TriggerKind = "interval" // fire every Schedule duration (Go duration string)
	TriggerCron     TriggerKind = "cron"     // fire on the standard 5-field cron expression in Schedule
)

// Action selects what happens when a Job fires.
type Action string

const (
	// ActionPrompt injects Job.Payload as a synthetic user message through
	// the target session's agent engine, as if the user had sent it.
	ActionPrompt Action = "prompt"
	// ActionReminder emits Job.Payload verbatim to the session's responder
	// without round-tripping it through the reasoning engine at all.
	ActionReminder Action = "reminder"
)

// Job is one scheduled trigger.
type Job struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Kind      TriggerKind `json:"kind"`
	Schedule  string      `json:"schedule"`
	Action    Action      `json:"action"`
	Payload   string      `json:"payload"`
	Enabled   bool        `json:"enabled"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	cronID      cron.EntryID
}

// Store persists jobs so a restart can resume them (and compute catch-up
// firings from LastFiredAt).
type Store interface {
	Save(job *Job) error
	Delete(id string) error
	LoadAll() ([]*Job, error)
}

// Sink is the destination for a firing. HandlePrompt mirrors
// api.AgentEngine.HandleMessage's shape loosely enough to be satisfied by
// the real engine without importing pkg/agent (which would create an
// import cycle, since the engine is the thing that would own a
// Scheduler).
type Sink interface {
	// InsertIntoSession queues msg into the session's active task if one
	// is running, returning false if there is none (the caller then falls
	// back to HandlePrompt to start a fresh turn).
	InsertIntoSession(sessionID string, text string) bool
	// HandlePrompt starts a brand new turn for sessionID as if text had
	// arrived from the user.
	HandlePrompt(ctx context.Context, sessionID string, text string)
	// SendReminder delivers text directly to the session without invoking
	// the reasoning engine at all.
	SendReminder(sessionID string, text string)
}

// Scheduler owns the cron runtime and the set of configured jobs.
type Scheduler struct {
	cron   *cron.Cron
	store  Store
	sink   Sink
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds a Scheduler. Jobs are not loaded or started until Start is
// called.
func New(store Store, sink Sink) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		store:  store,
		sink:   sink,
		logger: slog.Default(),
		jobs:   make(map[string]*Job),
	}
}

// Start loads persisted jobs, performs a single catch-up firing for any job
// whose schedule produced one or more missed occurrences while the process
// was not running, and begins the cron runtime.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	for _, j := range jobs {
		if err := s.schedule(ctx, j); err != nil {
			s.logger.Error("Failed to schedule persisted job", "job", j.ID, "error", err)
			continue
		}
		s.catchUp(ctx, j)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runtime. Queued-but-not-yet-fired entries are
// dropped; persisted Job state is unaffected.
func (s *Scheduler) Stop() {
	c := s.cron.Stop()
	<-c.Done()
}

// Add validates, persists, and schedules a new job.
func (s *Scheduler) Add(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	job.Enabled = true

	if err := s.store.Save(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if err := s.schedule(ctx, job); err != nil {
		return err
	}
	s.catchUp(ctx, job)
	return nil
}

// Remove cancels and deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if ok && job.Kind != TriggerOnce {
		s.cron.Remove(job.cronID)
	}
	return s.store.Delete(id)
}

// List returns every currently-scheduled job.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// schedule registers job with the cron runtime according to its kind.
func (s *Scheduler) schedule(ctx context.Context, job *Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	switch job.Kind {
	case TriggerOnce:
		at, err := time.Parse(time.RFC3339, job.Schedule)
		if err != nil {
			return fmt.Errorf("invalid once schedule %q: %w", job.Schedule, err)
		}
		delay := time.Until(at)
		if delay < 0 {
			// Already due; the caller's catchUp pass handles firing it.
			return nil
		}
		timer := time.AfterFunc(delay, func() {
			s.mu.Lock()
			live := s.jobs[job.ID] == job
			s.mu.Unlock()
			if !live {
				return // removed before it came due
			}
			s.fire(ctx, job)
			_ = s.Remove(job.ID)
		})
		_ = timer
		return nil

	case TriggerInterval:
		d, err := time.ParseDuration(job.Schedule)
		if err != nil {
			return fmt.Errorf("invalid interval schedule %q: %w", job.Schedule, err)
		}
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", d), func() { s.fire(ctx, job) })
		if err != nil {
			return err
		}
		job.cronID = id
		return nil

	case TriggerCron:
		id, err := s.cron.AddFunc(job.Schedule, func() { s.fire(ctx, job) })
		if err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", job.Schedule, err)
		}
		job.cronID = id
		return nil

	default:
		return fmt.Errorf("unknown trigger kind %q", job.Kind)
	}
}

// catchUp fires a job once, immediately, if its schedule implies it should
// already have fired at least once since LastFiredAt (or since creation,
// for a once-job whose target time has already passed). Any number of
// missed firings compact into this single catch-up execution rather than
// replaying each one.
func (s *Scheduler) catchUp(ctx context.Context, job *Job) {
	if job.LastFiredAt == nil && job.Kind != TriggerOnce {
		return
	}

	switch job.Kind {
	case TriggerOnce:
		at, err := time.Parse(time.RFC3339, job.Schedule)
		if err == nil && !at.After(time.Now()) && job.LastFiredAt == nil {
			s.fire(ctx, job)
			_ = s.Remove(job.ID)
		}

	case TriggerInterval:
		d, err := time.ParseDuration(job.Schedule)
		if err == nil && time.Since(*job.LastFiredAt) >= d {
			s.fire(ctx, job)
		}

	case TriggerCron:
		sched, err := cron.ParseStandard(job.Schedule)
		if err == nil && sched.Next(*job.LastFiredAt).Before(time.Now()) {
			s.fire(ctx, job)
		}
	}
}

// fire delivers the job's payload and records the firing time.
func (s *Scheduler) fire(ctx context.Context, job *Job) {
	now := time.Now()
	job.LastFiredAt = &now

	if err := s.store.Save(job); err != nil {
		s.logger.Warn("Failed to persist job firing time", "job", job.ID, "error", err)
	}

	s.logger.Info("Scheduled job fired", "job", job.ID, "session", job.SessionID, "action", job.Action)

	switch job.Action {
	case ActionReminder:
		s.sink.SendReminder(job.SessionID, job.Payload)
	default:
		if !s.sink.InsertIntoSession(job.SessionID, job.Payload) {
			s.sink.HandlePrompt(ctx, job.SessionID, job.Payload)
		}
	}
}
