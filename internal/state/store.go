// Package state holds the per-session UI state: the loading flag and the
// transient alert banner.
package state

import (
	"sync"
	"time"

	"github.com/dvlab/dvlab-api/internal/models"
)

const (
	DefaultAlertVisible = 5 * time.Second
	DefaultAlertFade    = time.Second
)

// Timer is the subset of *time.Timer the store needs.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Snapshot is a copy of the store contents.
type Snapshot struct {
	Loading bool
	Alert   *models.Alert
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithAlertTimings sets how long an alert stays visible and how long it fades.
func WithAlertTimings(visible, fade time.Duration) Option {
	return func(s *Store) {
		if visible > 0 {
			s.visible = visible
		}
		if fade > 0 {
			s.fade = fade
		}
	}
}

// Store is an injectable container with read, update and subscribe operations.
type Store struct {
	mu      sync.Mutex
	clock   Clock
	visible time.Duration
	fade    time.Duration

	loading bool
	alert   *models.Alert
	seq     uint64
	timers  []Timer

	subs    map[int]chan Snapshot
	nextSub int
}

// New builds an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:   realClock{},
		visible: DefaultAlertVisible,
		fade:    DefaultAlertFade,
		subs:    make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetLoading updates the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	s.publishLocked()
	s.mu.Unlock()
}

// SetAlert shows message, starts fading it after the visible period and clears
// it once the fade ends. A newer alert replaces the old one and its timers.
func (s *Store) SetAlert(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimersLocked()
	s.seq++
	seq := s.seq
	s.alert = &models.Alert{Message: message, SetAt: s.clock.Now()}
	s.publishLocked()

	s.timers = append(s.timers, s.clock.AfterFunc(s.visible, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq != seq || s.alert == nil {
			return
		}
		faded := *s.alert
		faded.Fading = true
		s.alert = &faded
		s.publishLocked()
	}))
	s.timers = append(s.timers, s.clock.AfterFunc(s.visible+s.fade, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq != seq {
			return
		}
		s.alert = nil
		s.timers = nil
		s.publishLocked()
	}))
}

// ClearAlert drops the alert immediately.
func (s *Store) ClearAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
	s.seq++
	if s.alert == nil {
		return
	}
	s.alert = nil
	s.publishLocked()
}

// Subscribe returns a channel receiving the latest snapshot after every change.
// Slow readers only see the most recent snapshot. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops pending timers and closes every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
	s.seq++
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Loading: s.loading}
	if s.alert != nil {
		a := *s.alert
		snap.Alert = &a
	}
	return snap
}

func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Store) stopTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
