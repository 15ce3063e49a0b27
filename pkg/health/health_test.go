package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func runN(p *probe, n int) {
	for range n {
		p.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passing())
	h.AddLivenessCheck("db", time.Second, failing("connection refused"))

	// Checks start healthy.
	w := serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	db := h.live[1]
	runN(db, 2)
	assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code, "below failure threshold")

	runN(db, 1)
	w = serve(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestProbe_Recovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	p := newProbe("flaky", time.Second, func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	assert.False(t, p.run(context.Background()))
	assert.False(t, p.run(context.Background()))
	assert.True(t, p.run(context.Background()), "third failure flips")
	assert.False(t, p.isHealthy())
	assert.EqualError(t, p.lastError(), "down")

	fail.Store(false)
	assert.True(t, p.run(context.Background()))
	assert.True(t, p.isHealthy())
	assert.NoError(t, p.lastError())
}

func TestProbe_Timeout(t *testing.T) {
	p := newProbe("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	runN(p, 3)
	assert.False(t, p.isHealthy())
	assert.ErrorIs(t, p.lastError(), context.DeadlineExceeded)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing())
	h.AddReadinessCheck("amqp", time.Second, failing("channel closed"))

	w := serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())
	assert.JSONEq(t, `{"status":"ok"}`, serve(h.ReadyEndpoint).Body.String())

	runN(h.readyz[1], 3)
	assert.False(t, h.IsReady())
	w = serve(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"amqp":"channel closed"}}`, w.Body.String())

	h.SetReady(false)
	assert.Equal(t,
		`{"status":"unhealthy","checks":{"_readiness":"service is not ready","amqp":"channel closed"}}`,
		serve(h.ReadyEndpoint).Body.String(),
		"check names are sorted",
	)
}

func TestStart_OnChange(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, failing("refused"))

	type change struct {
		name    string
		healthy bool
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	h.OnChange(func(name string, healthy bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{name, healthy})
		assert.EqualError(t, err, "refused")
	})

	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, change{"postgres", false}, changes[0])
	mu.Unlock()

	h.Stop()
	h.Stop()
}

func TestEndpoints_Concurrent(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddLivenessCheck("a", time.Second, passing())
	h.AddReadinessCheck("b", time.Second, failing("x"))
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
				_ = h.IsReady()
			}
		}()
	}
	wg.Wait()
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(1<<20)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	var last time.Time
	check := FreshnessCheck(func() time.Time { return last }, time.Minute)
	assert.EqualError(t, check(ctx), "never refreshed")
	last = time.Now()
	assert.NoError(t, check(ctx))
	last = time.Now().Add(-2 * time.Minute)
	assert.ErrorContains(t, check(ctx), "limit 1m0s")
}
