package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	"github.com/dvlab/dvlab-api/internal/state"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

// allowedTransitions lists every legal move of the session state machine.
var allowedTransitions = map[models.SessionState][]models.SessionState{
	models.SessionUninitialized: {models.SessionAuthorized, models.SessionUnauthorized},
	models.SessionUnauthorized:  {models.SessionAuthorized, models.SessionLoggedOut},
	models.SessionAuthorized:    {models.SessionUnauthorized, models.SessionAuthorized},
}

// ScheduleSession is the server-side counterpart of one browser's schedule view.
// All fields below mu are guarded by it.
type ScheduleSession struct {
	id    string
	store *state.Store

	mu         sync.Mutex
	state      models.SessionState
	mode       models.AuthMode
	source     google.EventSource
	events     []models.CalendarEvent
	dateRange  google.DateRange
	summary    string
	generation uint64
	cancel     context.CancelFunc
	lastActive time.Time
	updatedAt  time.Time
}

func newScheduleSession(id string, store *state.Store, now time.Time) *ScheduleSession {
	return &ScheduleSession{
		id:         id,
		store:      store,
		state:      models.SessionUninitialized,
		events:     []models.CalendarEvent{},
		lastActive: now,
		updatedAt:  now,
	}
}

// ID returns the session identifier.
func (s *ScheduleSession) ID() string {
	return s.id
}

// Store exposes the alert and loading container.
func (s *ScheduleSession) Store() *state.Store {
	return s.store
}

// State returns the current state.
func (s *ScheduleSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitionLocked moves the session to next or reports an illegal move.
func (s *ScheduleSession) transitionLocked(next models.SessionState) error {
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == next {
			s.state = next
			s.updatedAt = time.Now().UTC()
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move schedule session from %s to %s", s.state, next))
}

// authorizeLocked installs a credential source.
func (s *ScheduleSession) authorizeLocked(mode models.AuthMode, src google.EventSource) error {
	if err := s.transitionLocked(models.SessionAuthorized); err != nil {
		return err
	}
	s.mode = mode
	s.source = src
	return nil
}

// dropCredentialLocked forgets the credential and any in-flight fetch.
func (s *ScheduleSession) dropCredentialLocked() {
	s.source = nil
	s.mode = models.AuthModeNone
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *ScheduleSession) touchLocked(now time.Time) {
	s.lastActive = now
}

func (s *ScheduleSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Snapshot copies the externally visible state.
func (s *ScheduleSession) Snapshot() models.ScheduleSnapshot {
	s.mu.Lock()
	snap := models.ScheduleSnapshot{
		SessionID:  s.id,
		State:      s.state,
		Mode:       s.mode,
		Events:     append([]models.CalendarEvent(nil), s.events...),
		Generation: s.generation,
		Range:      s.dateRange.View(),
		Summary:    s.summary,
		UpdatedAt:  s.updatedAt,
	}
	s.mu.Unlock()

	ui := s.store.Snapshot()
	snap.Loading = ui.Loading
	snap.Alert = ui.Alert
	if snap.Events == nil {
		snap.Events = []models.CalendarEvent{}
	}
	return snap
}

func (s *ScheduleSession) close() {
	s.mu.Lock()
	s.dropCredentialLocked()
	s.mu.Unlock()
	s.store.Close()
}
