// Package scheduler takes live tests offline once their live window has elapsed.
//
// Each live test owns at most one timer. When it fires, the test's still-pending attempts
// are marked absent and the test goes offline. Timers live in process memory only and are
// rebuilt from the persisted live tests at startup.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/exam"
)

const (
	DefaultWindow      = 3*time.Hour + 30*time.Minute
	defaultFireTimeout = time.Minute
)

type (
	TestStore interface {
		LiveTests(ctx context.Context) ([]exam.Test, error)
		// MarkOffline ends the live window started at liveAt, reporting false when the test
		// has been taken offline or re-armed since.
		MarkOffline(ctx context.Context, id string, liveAt time.Time) (bool, error)
	}

	AbsenceMarker interface {
		ExpirePending(ctx context.Context, testID string) (int, error)
	}

	// Timer describes a pending offline transition.
	Timer struct {
		TestID   string    `json:"test_id"`
		TestName string    `json:"test_name"`
		LiveAt   time.Time `json:"live_at"`
		Deadline time.Time `json:"deadline"`
	}

	Option func(*Scheduler)

	entry struct {
		timer *time.Timer
		info  Timer
		seq   uint64
	}

	Scheduler struct {
		tests       TestStore
		marker      AbsenceMarker
		logger      core.Logger
		window      time.Duration
		fireTimeout time.Duration
		now         func() time.Time

		mu     sync.Mutex
		timers map[string]*entry // {testID: entry}
		seq    uint64
	}
)

var _ exam.Scheduler = (*Scheduler)(nil) // interface compliance check

func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithFireTimeout bounds the work done by a single firing.
func WithFireTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.fireTimeout = d
		}
	}
}

func New(tests TestStore, marker AbsenceMarker, logger core.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tests:       tests,
		marker:      marker,
		logger:      logger,
		window:      DefaultWindow,
		fireTimeout: defaultFireTimeout,
		now:         time.Now,
		timers:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleOffline arms the offline timer of a test that went live at liveAt, replacing any
// previous timer. An already elapsed deadline fires before ScheduleOffline returns.
func (s *Scheduler) ScheduleOffline(testID, testName string, liveAt time.Time) {
	info := Timer{TestID: testID, TestName: testName, LiveAt: liveAt, Deadline: liveAt.Add(s.window)}
	delay := info.Deadline.Sub(s.now())

	s.mu.Lock()
	s.stopLocked(testID)
	if delay <= 0 {
		s.mu.Unlock()
		s.logger.Warn(fmt.Sprintf("test %q is past its deadline, taking it offline now", testName))
		s.fire(info, 0)
		return
	}
	s.seq++
	e := &entry{info: info, seq: s.seq}
	e.timer = time.AfterFunc(delay, func() { s.fire(info, e.seq) })
	s.timers[testID] = e
	s.mu.Unlock()
}

// CancelSchedule disarms the test's timer and reports whether one was armed.
func (s *Scheduler) CancelSchedule(testID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(testID)
}

func (s *Scheduler) stopLocked(testID string) bool {
	e, ok := s.timers[testID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, testID)
	return true
}

// RebuildOnStartup re-arms a timer for every persisted live test. Overdue tests are taken
// offline immediately.
func (s *Scheduler) RebuildOnStartup(ctx context.Context) error {
	tests, err := s.tests.LiveTests(ctx)
	if err != nil {
		return err
	}
	for _, t := range tests {
		liveAt := s.now()
		if t.LiveAt != nil {
			liveAt = *t.LiveAt
		} else {
			s.logger.Warn(fmt.Sprintf("live test %q has no live timestamp, starting its window now", t.Name))
		}
		s.ScheduleOffline(t.ID, t.Name, liveAt)
	}
	s.logger.Info(fmt.Sprintf("rebuilt offline timers: %d live test(s)", len(tests)))
	return nil
}

// ActiveTimers lists the armed timers by deadline.
func (s *Scheduler) ActiveTimers() []Timer {
	s.mu.Lock()
	timers := make([]Timer, 0, len(s.timers))
	for _, e := range s.timers {
		timers = append(timers, e.info)
	}
	s.mu.Unlock()

	sort.Slice(timers, func(i, j int) bool { return timers[i].Deadline.Before(timers[j].Deadline) })
	return timers
}

// Stop disarms every timer. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.stopLocked(id)
	}
}

// fire runs without holding the registry lock. A seq of 0 means the firing was never registered.
// Superseded firings do nothing, and the test only goes offline if still live since info.LiveAt.
func (s *Scheduler) fire(info Timer, seq uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Sprintf("offline timer of test %q panicked: %v", info.TestName, r))
		}
		if seq != 0 {
			s.forget(info.TestID, seq)
		}
	}()

	if !s.current(info.TestID, seq) {
		s.logger.Info(fmt.Sprintf("offline timer of test %q was superseded", info.TestName))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	n, err := s.marker.ExpirePending(ctx, info.TestID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("marking absentees of test %q: %v", info.TestName, err), err)
	}
	offline, err := s.tests.MarkOffline(ctx, info.TestID, info.LiveAt)
	if err != nil {
		s.logger.Error(fmt.Sprintf("taking test %q offline: %v", info.TestName, err), err)
		return
	}
	if !offline {
		s.logger.Info(fmt.Sprintf("test %q changed status since its timer was armed, left as is", info.TestName))
		return
	}
	s.logger.Info(fmt.Sprintf("test %q is now offline, %d student(s) marked absent", info.TestName, n))
}

// current reports whether seq is still the armed timer of the test.
func (s *Scheduler) current(testID string, seq uint64) bool {
	if seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[testID]
	return ok && e.seq == seq
}

// forget removes the entry unless it has been replaced since the timer was armed.
func (s *Scheduler) forget(testID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[testID]; ok && e.seq == seq {
		delete(s.timers, testID)
	}
}
