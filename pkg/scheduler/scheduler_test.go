package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests, avoiding filesystem I/O.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]*Job)} }

func (s *memStore) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) LoadAll() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

// fakeSink records every firing it receives.
type fakeSink struct {
	mu        sync.Mutex
	inserted  []string
	prompted  []string
	reminded  []string
	insertOK  bool
}

func (s *fakeSink) InsertIntoSession(sessionID string, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, text)
	return s.insertOK
}

func (s *fakeSink) HandlePrompt(ctx context.Context, sessionID string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompted = append(s.prompted, text)
}

func (s *fakeSink) SendReminder(sessionID string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminded = append(s.reminded, text)
}

func (s *fakeSink) counts() (inserted, prompted, reminded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted), len(s.prompted), len(s.reminded)
}

func TestSchedulerReminderGoesDirectlyToSink(t *testing.T) {
	store := newMemStore()
	sink := &fakeSink{}
	sched := New(store, sink)

	job := &Job{ID: "j1", SessionID: "sess-1", Kind: TriggerOnce, Schedule: time.Now().Add(50 * time.Millisecond).Format(time.RFC3339), Action: ActionReminder, Payload: "stretch"}
	require.NoError(t, sched.Add(context.Background(), job))
	defer sched.Stop()

	time.Sleep(150 * time.Millisecond)
	_, _, reminded := sink.counts()
	assert.Equal(t, 1, reminded, "expected exactly one reminder delivery")
}

func TestSchedulerOnceFiresExactlyOnce(t *testing.T) {
	store := newMemStore()
	sink := &fakeSink{insertOK: true}
	sched := New(store, sink)

	job := &Job{ID: "once-1", SessionID: "sess-1", Kind: TriggerOnce, Schedule: time.Now().Add(30 * time.Millisecond).Format(time.RFC3339), Action: ActionPrompt, Payload: "ping"}
	require.NoError(t, sched.Add(context.Background(), job))
	defer sched.Stop()

	time.Sleep(200 * time.Millisecond)
	inserted, _, _ := sink.counts()
	assert.Equal(t, 1, inserted, "expected a 'once' job to fire exactly once")

	// A once job removes itself after firing; the store should no longer
	// carry it, so a fresh Start() wouldn't replay it.
	jobs, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, jobs, "expected the fired 'once' job to be removed from the store")
}

func TestSchedulerCatchUpCompactsMissedFirings(t *testing.T) {
	store := newMemStore()
	sink := &fakeSink{insertOK: true}

	// Simulate a process restart: a job with an interval schedule whose
	// last firing was long enough ago that several intervals were missed
	// while the process was down.
	past := time.Now().Add(-10 * time.Minute)
	job := &Job{
		ID: "interval-1", SessionID: "sess-1", Kind: TriggerInterval, Schedule: "1m",
		Action: ActionPrompt, Payload: "check in", Enabled: true, LastFiredAt: &past,
	}
	require.NoError(t, store.Save(job))

	sched := New(store, sink)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	// Give catch-up's synchronous fire call time to land (it happens inline
	// during Start, before the cron loop begins ticking on its own).
	time.Sleep(20 * time.Millisecond)

	inserted, _, _ := sink.counts()
	assert.Equal(t, 1, inserted, "expected exactly one compacted catch-up firing regardless of how many intervals were missed")
}

func TestSchedulerRemoveCancelsJob(t *testing.T) {
	store := newMemStore()
	sink := &fakeSink{insertOK: true}
	sched := New(store, sink)

	job := &Job{ID: "cron-1", SessionID: "sess-1", Kind: TriggerInterval, Schedule: "1h", Action: ActionPrompt, Payload: "noop"}
	require.NoError(t, sched.Add(context.Background(), job))

	require.NoError(t, sched.Remove("cron-1"))

	jobs, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, jobs, "expected Remove to delete the job from the store")
	assert.Empty(t, sched.List(), "expected Remove to drop the job from the in-memory list")
}
