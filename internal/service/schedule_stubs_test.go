package service

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/dvlab/dvlab-api/internal/google"
	"github.com/dvlab/dvlab-api/internal/models"
	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

type funcSource struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, q google.EventQuery) ([]models.CalendarEvent, error)
}

func (s *funcSource) List(ctx context.Context, q google.EventQuery) ([]models.CalendarEvent, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, q)
}

func staticSource(err error, events ...models.CalendarEvent) *funcSource {
	return &funcSource{fn: func(context.Context, google.EventQuery) ([]models.CalendarEvent, error) {
		if err != nil {
			return nil, err
		}
		return events, nil
	}}
}

type stubProvider struct {
	mu            sync.Mutex
	ready         bool
	initErr       error
	initCalls     int
	authURLCalls  int
	lastState     string
	exchangeErr   error
	exchangeCodes []string
	source        google.EventSource
	tokensUsed    []string
}

func (p *stubProvider) Initialize(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalls++
	if p.initErr != nil {
		return p.initErr
	}
	p.ready = true
	return nil
}

func (p *stubProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *stubProvider) AuthCodeURL(state string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authURLCalls++
	p.lastState = state
	return "https://accounts.example.test/auth?state=" + state, nil
}

func (p *stubProvider) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCodes = append(p.exchangeCodes, code)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "issued-" + code, TokenType: "Bearer"}, nil
}

func (p *stubProvider) WithToken(_ context.Context, token string) (google.EventSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, appErrors.ErrTokenClientNotReady
	}
	p.tokensUsed = append(p.tokensUsed, token)
	return p.source, nil
}

func (p *stubProvider) WithBearer(token string) google.EventSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokensUsed = append(p.tokensUsed, token)
	return p.source
}

// countingTokens counts deletes on top of an in-memory map.
type countingTokens struct {
	mu      sync.Mutex
	tokens  map[string]string
	deletes int
}

func newCountingTokens() *countingTokens {
	return &countingTokens{tokens: make(map[string]string)}
}

func (r *countingTokens) Get(_ context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[sessionID]
	if !ok {
		return "", appErrors.ErrTokenNotFound
	}
	return token, nil
}

func (r *countingTokens) Save(_ context.Context, sessionID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[sessionID] = token
	return nil
}

func (r *countingTokens) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[sessionID]; ok {
		r.deletes++
	}
	delete(r.tokens, sessionID)
	return nil
}

func (r *countingTokens) has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[sessionID]
	return ok
}

func calendarEvent(id, summary string) models.CalendarEvent {
	return models.CalendarEvent{ID: id, Summary: summary, Start: models.EventTime{Date: "2024-03-04"}, End: models.EventTime{Date: "2024-03-05"}}
}
