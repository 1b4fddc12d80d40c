package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderSharesInFlightLoad(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	loader := NewLoader(srv.Client(), nil)
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- loader.Ensure(context.Background(), srv.URL, nil)
		}()
	}
	// Let every caller join the pending load before the server answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, loader.Loaded(srv.URL))
	assert.Equal(t, []byte("ok"), loader.Body(srv.URL))

	require.NoError(t, loader.Ensure(context.Background(), srv.URL, nil))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoaderPresenceCheckSkipsFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	loader := NewLoader(srv.Client(), nil)
	require.NoError(t, loader.Ensure(context.Background(), srv.URL, func() bool { return true }))
	assert.Zero(t, hits.Load())
	assert.False(t, loader.Loaded(srv.URL))
}

func TestLoaderFailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	loader := NewLoader(srv.Client(), nil)
	err := loader.Ensure(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load "+srv.URL)
	assert.False(t, loader.Loaded(srv.URL))

	fail.Store(false)
	require.NoError(t, loader.Ensure(context.Background(), srv.URL, nil))
	assert.Equal(t, []byte("recovered"), loader.Body(srv.URL))
}
