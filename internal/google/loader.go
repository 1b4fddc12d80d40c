package google

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLoadTimeout = 10 * time.Second
	maxResourceSize    = 4 << 20
)

// Loader fetches provider resources once and keeps them in a registry keyed by URL.
// Concurrent callers for the same URL share a single in-flight request. Failed loads
// are not remembered, so a later call retries.
type Loader struct {
	httpClient *http.Client
	logger     *zap.Logger
	timeout    time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	items map[string][]byte
}

// NewLoader builds a loader. A nil client falls back to http.DefaultClient.
func NewLoader(httpClient *http.Client, logger *zap.Logger) *Loader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		httpClient: httpClient,
		logger:     logger,
		timeout:    defaultLoadTimeout,
		items:      make(map[string][]byte),
	}
}

// Ensure makes url available. present short-circuits the load when it reports true;
// a nil present falls back to the registry.
func (l *Loader) Ensure(ctx context.Context, url string, present func() bool) error {
	if present == nil {
		present = func() bool { return l.Loaded(url) }
	}
	if present() {
		return nil
	}

	ch := l.group.DoChan(url, func() (interface{}, error) {
		if l.Loaded(url) {
			return nil, nil
		}
		// The shared fetch must outlive any single waiter's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		body, err := l.fetch(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.items[url] = body
		l.mu.Unlock()
		l.logger.Debug("provider resource loaded", zap.String("url", url), zap.Int("bytes", len(body)))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Loaded reports whether url has been fetched successfully.
func (l *Loader) Loaded(url string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.items[url]
	return ok
}

// Body returns the loaded bytes for url, or nil.
func (l *Loader) Body(url string) []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items[url]
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to load %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceSize))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}
	return body, nil
}
