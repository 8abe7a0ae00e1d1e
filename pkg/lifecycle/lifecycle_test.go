package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/pkg/failure"
)

func probe(t *testing.T, r *gin.Engine, path string) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := New(r, "0", nil)

	assert.Equal(t, http.StatusOK, probe(t, r, "/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, r, "/readyz"))
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, r, "/startupz"))

	s.MarkReady()
	assert.Equal(t, http.StatusOK, probe(t, r, "/readyz"))
	assert.Equal(t, http.StatusOK, probe(t, r, "/startupz"))

	s.SetReadinessCheck(func(ctx context.Context) error { return errors.New("store down") })
	assert.Equal(t, http.StatusServiceUnavailable, probe(t, r, "/readyz"))
}

func TestRunStopsOnContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(gin.New(), "0", nil, WithDrainPeriod(0))

	hooked := make(chan struct{})
	s.OnShutdown(func(ctx context.Context) { close(hooked) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-hooked
	assert.Equal(t, int32(StateStopped), s.State())
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := RetryWithBackoff(ctx, Backoff{Attempts: 3, Base: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(ctx, Backoff{Attempts: 5, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return failure.New(failure.Config, "bad credentials file")
	})
	assert.ErrorIs(t, err, failure.ErrConfig)
	assert.Equal(t, 1, calls)

	calls = 0
	err = RetryWithBackoff(ctx, Backoff{Attempts: 2, Base: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("still down")
	})
	assert.EqualError(t, err, "failed after 2 attempts: still down")
	assert.Equal(t, 2, calls)
}
