package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	"github.com/rudderlabs/rudder-go-kit/stats/memstats"
)

var (
	errStore     = errors.New("store unavailable")
	errMalformed = errors.New("malformed")
)

func fail() error    { return errStore }
func succeed() error { return nil }

type fakeListener struct {
	id     string
	mu     sync.Mutex
	paused bool
}

func (l *fakeListener) ID() string { return l.id }

func (l *fakeListener) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

func (l *fakeListener) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

func (l *fakeListener) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *fakeListener) IsRunning() bool { return !l.IsPaused() }

type fakePinger struct {
	healthy atomic.Bool
	calls   atomic.Int64
}

func (p *fakePinger) Ping(context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errStore
}

func TestSlidingWindow(t *testing.T) {
	w := newSlidingWindow(3)
	require.EqualValues(t, -1, w.snapshot().failureRate(2))

	w.record(true)
	require.EqualValues(t, -1, w.snapshot().failureRate(2))

	w.record(false)
	require.EqualValues(t, 50, w.snapshot().failureRate(2))

	w.record(true)
	w.record(false) // evicts the first failure
	s := w.snapshot()
	require.Equal(t, 3, s.buffered)
	require.Equal(t, 1, s.failed)

	w.reset()
	require.Equal(t, windowSnapshot{}, w.snapshot())
}

func TestBreaker(t *testing.T) {
	t.Run("stays closed below minimum calls", func(t *testing.T) {
		b := newBreaker("test", nil)
		for i := 0; i < 4; i++ {
			require.ErrorIs(t, b.Execute(fail), errStore)
		}
		require.Equal(t, StateClosed, b.State())
		require.EqualValues(t, -1, b.Metrics().FailureRate)
		require.Equal(t, 4, b.Metrics().FailedCalls)
	})

	t.Run("opens at the failure rate threshold", func(t *testing.T) {
		b := newBreaker("test", nil)
		require.NoError(t, b.Execute(succeed))
		require.NoError(t, b.Execute(succeed))
		require.ErrorIs(t, b.Execute(fail), errStore)
		require.ErrorIs(t, b.Execute(fail), errStore)
		require.Equal(t, StateClosed, b.State())

		require.ErrorIs(t, b.Execute(fail), errStore)
		require.Equal(t, StateOpen, b.State())

		var called bool
		err := b.Execute(func() error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrCallNotPermitted)
		require.False(t, called)
	})

	t.Run("stays closed under the threshold", func(t *testing.T) {
		b := newBreaker("test", nil)
		for i := 0; i < 10; i++ {
			if i%2 == 0 {
				_ = b.Execute(succeed)
			} else {
				_ = b.Execute(fail)
			}
		}
		require.Equal(t, StateClosed, b.State())
		require.EqualValues(t, 50, b.Metrics().FailureRate)
	})

	t.Run("ignored errors are not counted", func(t *testing.T) {
		b := newBreaker("test", nil, WithIgnoredErrors(errMalformed))
		for i := 0; i < 10; i++ {
			require.ErrorIs(t, b.Execute(func() error { return errMalformed }), errMalformed)
		}
		require.Equal(t, StateClosed, b.State())
		require.Zero(t, b.Metrics().BufferedCalls)
	})

	t.Run("half-open closes after the permitted calls succeed", func(t *testing.T) {
		var (
			mu          sync.Mutex
			transitions []State
		)
		b := newBreaker("test", func(_ string, _, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
		},
			WithMinimumCalls(2),
			WithOpenTimeout(20*time.Millisecond),
			WithMaxRequests(2),
		)
		_ = b.Execute(fail)
		_ = b.Execute(fail)
		require.Equal(t, StateOpen, b.State())

		require.Eventually(t, func() bool {
			return b.State() == StateHalfOpen
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, b.Execute(succeed))
		require.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Execute(succeed))
		require.Equal(t, StateClosed, b.State())

		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
	})

	t.Run("half-open reopens on failure", func(t *testing.T) {
		b := newBreaker("test", nil, WithMinimumCalls(1), WithOpenTimeout(10*time.Millisecond))
		_ = b.Execute(fail)
		require.Eventually(t, func() bool {
			return b.State() == StateHalfOpen
		}, time.Second, 5*time.Millisecond)

		_ = b.Execute(fail)
		require.Equal(t, StateOpen, b.State())
	})
}

func newTestRegistry(t *testing.T, pinger Pinger, names ...string) (*Registry, *memstats.Store) {
	t.Helper()

	conf := config.New()
	conf.Set("CircuitBreaker.minimumNumberOfCalls", 2)
	conf.Set("CircuitBreaker.waitDurationInOpenState", "30ms")
	conf.Set("CircuitBreaker.permittedCallsInHalfOpenState", 1)
	conf.Set("CircuitBreaker.probeInterval", "5ms")

	statsStore, err := memstats.New()
	require.NoError(t, err)

	return NewRegistry(conf, logger.NOP, statsStore, pinger, names...), statsStore
}

func TestRegistry_PauseAndResume(t *testing.T) {
	r, statsStore := newTestRegistry(t, nil, "DATASET", "CONCEPT")

	first, second := &fakeListener{id: "dataset-0"}, &fakeListener{id: "dataset-1"}
	other := &fakeListener{id: "concept-0"}
	r.Register("DATASET", first)
	r.Register("DATASET", second)
	r.Register("CONCEPT", other)

	b := r.Breaker("DATASET")
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	require.Equal(t, StateOpen, b.State())

	require.True(t, first.IsPaused())
	require.True(t, second.IsPaused())
	require.False(t, first.IsRunning())
	require.False(t, other.IsPaused())
	require.EqualValues(t, 2, statsStore.Get("circuit_breaker_state", stats.Tags{"name": "DATASET"}).LastValue())

	t.Run("a listener registered while open starts paused", func(t *testing.T) {
		late := &fakeListener{id: "dataset-2"}
		r.Register("DATASET", late)
		require.True(t, late.IsPaused())
	})

	require.Eventually(t, func() bool {
		return b.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)
	require.True(t, first.IsPaused(), "half-open keeps listeners paused")

	require.NoError(t, b.Execute(succeed))
	require.Equal(t, StateClosed, b.State())
	require.False(t, first.IsPaused())
	require.True(t, first.IsRunning())
	require.False(t, second.IsPaused())
	require.EqualValues(t, 0, statsStore.Get("circuit_breaker_state", stats.Tags{"name": "DATASET"}).LastValue())
}

func TestRegistry_PauseAllResumeAll(t *testing.T) {
	r, _ := newTestRegistry(t, nil, "EVENT", "SERVICE")
	a, b := &fakeListener{id: "a"}, &fakeListener{id: "b"}
	r.Register("EVENT", a)
	r.Register("SERVICE", b)

	r.PauseAll()
	r.PauseAll()
	require.True(t, a.IsPaused())
	require.True(t, b.IsPaused())

	r.ResumeAll()
	require.False(t, a.IsPaused())
	require.False(t, b.IsPaused())
}

func TestRegistry_ProbeRecoversWithoutTraffic(t *testing.T) {
	pinger := &fakePinger{}
	r, _ := newTestRegistry(t, pinger, "rdf-parse")
	l := &fakeListener{id: "rdf-parse-0"}
	r.Register("rdf-parse", l)

	b := r.Breaker("rdf-parse")
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	require.True(t, l.IsPaused())

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return pinger.calls.Load() > 0
	}, time.Second, 5*time.Millisecond)
	require.True(t, l.IsPaused(), "an unhealthy store keeps the breaker from closing")

	pinger.healthy.Store(true)
	require.Eventually(t, func() bool {
		return b.State() == StateClosed && !l.IsPaused()
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistry_Status(t *testing.T) {
	r, _ := newTestRegistry(t, nil, "SERVICE", "CONCEPT")
	r.Register("SERVICE", &fakeListener{id: "service-0"})

	b := r.Breaker("SERVICE")
	_ = b.Execute(succeed)
	_ = b.Execute(fail)

	status := r.Status()
	require.Len(t, status, 2)
	require.Equal(t, "CONCEPT", status[0].Name)
	require.Empty(t, status[0].Listeners)

	service := status[1]
	require.Equal(t, "SERVICE", service.Name)
	require.Equal(t, StateClosed, service.State)
	require.EqualValues(t, 50, service.FailureRate)
	require.Equal(t, 2, service.BufferedCalls)
	require.Equal(t, 1, service.FailedCalls)
	require.Equal(t, 1, service.SuccessfulCalls)
	require.Equal(t, []ListenerStatus{{ID: "service-0", Running: true, Paused: false}}, service.Listeners)
}
