package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/tests"
)

type fakeStore struct {
	mu      sync.Mutex
	live    []exam.Test
	liveAt  map[string]time.Time // current live timestamps, when tracked
	offline []string
	fired   chan string
}

func newFakeStore(live ...exam.Test) *fakeStore {
	return &fakeStore{live: live, liveAt: make(map[string]time.Time), fired: make(chan string, 10)}
}

func (f *fakeStore) LiveTests(context.Context) ([]exam.Test, error) {
	return f.live, nil
}

func (f *fakeStore) setLive(id string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveAt[id] = at
}

func (f *fakeStore) MarkOffline(_ context.Context, id string, liveAt time.Time) (bool, error) {
	f.mu.Lock()
	if at, ok := f.liveAt[id]; ok && !at.Equal(liveAt) {
		f.mu.Unlock()
		return false, nil
	}
	delete(f.liveAt, id)
	f.offline = append(f.offline, id)
	f.mu.Unlock()
	f.fired <- id
	return true, nil
}

func (f *fakeStore) offlineIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.offline...)
}

type fakeMarker struct {
	mu      sync.Mutex
	calls   []string
	err     error
	panics  bool
	expired int

	entered chan struct{} // when set, ExpirePending signals entry then waits on release
	release chan struct{}
}

func (f *fakeMarker) ExpirePending(_ context.Context, testID string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, testID)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.panics {
		panic("boom")
	}
	return f.expired, f.err
}

func (f *fakeMarker) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func waitFired(t *testing.T, store *fakeStore, want string) {
	t.Helper()
	select {
	case id := <-store.fired:
		assert.Equal(t, want, id)
	case <-time.After(2 * time.Second):
		t.Fatalf("timer of %s did not fire", want)
	}
}

func waitNoTimers(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.ActiveTimers()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_ScheduleOffline(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{expired: 3}
	s := New(store, marker, testutil.NewLogger(), WithWindow(30*time.Millisecond))

	liveAt := time.Now()
	s.ScheduleOffline("t1", "Mock 1", liveAt)

	timers := s.ActiveTimers()
	require.Len(t, timers, 1)
	assert.Equal(t, "t1", timers[0].TestID)
	assert.Equal(t, liveAt.Add(30*time.Millisecond), timers[0].Deadline)

	waitFired(t, store, "t1")
	assert.Equal(t, []string{"t1"}, marker.called())
	waitNoTimers(t, s)
}

func TestScheduler_ScheduleOffline_overdue(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{}
	s := New(store, marker, testutil.NewLogger(), WithWindow(time.Hour))

	s.ScheduleOffline("t1", "Mock 1", time.Now().Add(-2*time.Hour))

	// fired synchronously
	assert.Equal(t, []string{"t1"}, store.offlineIDs())
	assert.Equal(t, []string{"t1"}, marker.called())
	assert.Empty(t, s.ActiveTimers())
}

func TestScheduler_ScheduleOffline_replaces(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{}
	s := New(store, marker, testutil.NewLogger(), WithWindow(50*time.Millisecond))

	first := time.Now()
	s.ScheduleOffline("t1", "Mock 1", first)
	second := first.Add(20 * time.Millisecond)
	s.ScheduleOffline("t1", "Mock 1", second)

	timers := s.ActiveTimers()
	require.Len(t, timers, 1)
	assert.Equal(t, second.Add(50*time.Millisecond), timers[0].Deadline)

	waitFired(t, store, "t1")
	waitNoTimers(t, s)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{"t1"}, store.offlineIDs(), "replaced timer must not fire")
}

func TestScheduler_ScheduleOffline_rearmedWhileFiring(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(store, marker, testutil.NewLogger(), WithWindow(20*time.Millisecond))
	defer s.Stop()

	first := time.Now()
	store.setLive("t1", first)
	s.ScheduleOffline("t1", "Mock 1", first)

	select {
	case <-marker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timer of t1 did not fire")
	}

	// the test goes live again while the first firing is still in flight
	second := first.Add(time.Hour)
	store.setLive("t1", second)
	s.ScheduleOffline("t1", "Mock 1", second)
	close(marker.release)

	require.Eventually(t, func() bool { return len(marker.called()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, store.offlineIDs(), "re-armed test must stay live")

	timers := s.ActiveTimers()
	require.Len(t, timers, 1)
	assert.Equal(t, second, timers[0].LiveAt)
}

func TestScheduler_fire_superseded(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{}
	s := New(store, marker, testutil.NewLogger(), WithWindow(time.Hour))
	defer s.Stop()

	liveAt := time.Now()
	s.ScheduleOffline("t1", "Mock 1", liveAt)
	armed := s.timers["t1"].seq

	s.fire(Timer{TestID: "t1", TestName: "Mock 1", LiveAt: liveAt.Add(-time.Hour)}, armed+1)

	assert.Empty(t, marker.called(), "stale firing must not mark absentees")
	assert.Empty(t, store.offlineIDs())
	assert.Len(t, s.ActiveTimers(), 1)
}

func TestScheduler_CancelSchedule(t *testing.T) {
	store := newFakeStore()
	marker := &fakeMarker{}
	s := New(store, marker, testutil.NewLogger(), WithWindow(30*time.Millisecond))

	assert.False(t, s.CancelSchedule("unknown"))

	s.ScheduleOffline("t1", "Mock 1", time.Now())
	assert.True(t, s.CancelSchedule("t1"))
	assert.False(t, s.CancelSchedule("t1"))
	assert.Empty(t, s.ActiveTimers())

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, store.offlineIDs())
	assert.Empty(t, marker.called())
}

func TestScheduler_fire_failures(t *testing.T) {
	tests := []struct {
		name   string
		marker *fakeMarker
	}{
		{name: "absence marking fails", marker: &fakeMarker{err: errors.New("db down")}},
		{name: "absence marking panics", marker: &fakeMarker{panics: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			s := New(store, tt.marker, testutil.NewLogger(), WithWindow(20*time.Millisecond))

			s.ScheduleOffline("t1", "Mock 1", time.Now())

			if tt.marker.panics {
				waitNoTimers(t, s)
				assert.Empty(t, store.offlineIDs())
			} else {
				waitFired(t, store, "t1")
				waitNoTimers(t, s)
			}
			assert.Equal(t, []string{"t1"}, tt.marker.called())
		})
	}
}

func TestScheduler_RebuildOnStartup(t *testing.T) {
	now := time.Now()
	old := now.Add(-4 * time.Hour)
	recent := now.Add(-time.Hour)
	store := newFakeStore(
		exam.Test{ID: "old", Name: "Old", Status: exam.StatusLive, LiveAt: &old},
		exam.Test{ID: "recent", Name: "Recent", Status: exam.StatusLive, LiveAt: &recent},
		exam.Test{ID: "nostamp", Name: "No stamp", Status: exam.StatusLive},
	)
	marker := &fakeMarker{}
	s := New(store, marker, testutil.NewLogger(), WithNow(func() time.Time { return now }))
	defer s.Stop()

	require.NoError(t, s.RebuildOnStartup(context.Background()))

	assert.Equal(t, []string{"old"}, store.offlineIDs())
	timers := s.ActiveTimers()
	require.Len(t, timers, 2)
	assert.Equal(t, "recent", timers[0].TestID)
	assert.Equal(t, recent.Add(DefaultWindow), timers[0].Deadline)
	assert.Equal(t, "nostamp", timers[1].TestID)
	assert.Equal(t, now.Add(DefaultWindow), timers[1].Deadline)
}

func TestScheduler_Stop(t *testing.T) {
	store := newFakeStore()
	s := New(store, &fakeMarker{}, testutil.NewLogger(), WithWindow(20*time.Millisecond))

	s.ScheduleOffline("t1", "Mock 1", time.Now())
	s.ScheduleOffline("t2", "Mock 2", time.Now())
	s.Stop()

	assert.Empty(t, s.ActiveTimers())
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, store.offlineIDs())
}
