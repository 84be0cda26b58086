package circuitbreaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"
)

// Listener is a message consumer that can be paused and resumed by its breaker.
type Listener interface {
	ID() string
	Pause()
	Resume()
	IsRunning() bool
	IsPaused() bool
}

// Pinger is used to probe the guarded dependency while a breaker is not closed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry owns one breaker per name and coordinates the listeners attached to each of them:
// entering OPEN pauses them, entering CLOSED resumes them.
type Registry struct {
	log          logger.Logger
	statsFactory stats.Stats
	pinger       Pinger

	config struct {
		probeInterval config.ValueLoader[time.Duration]
		opts          []Opt
	}

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners map[string][]Listener
}

func NewRegistry(conf *config.Config, log logger.Logger, statsFactory stats.Stats, pinger Pinger, names ...string) *Registry {
	r := &Registry{
		log:          log.Child("circuit-breaker"),
		statsFactory: statsFactory,
		pinger:       pinger,
		breakers:     make(map[string]*Breaker),
		listeners:    make(map[string][]Listener),
	}
	r.config.probeInterval = conf.GetReloadableDurationVar(5, time.Second, "CircuitBreaker.probeInterval")
	r.config.opts = []Opt{
		WithSlidingWindowSize(conf.GetInt("CircuitBreaker.slidingWindowSize", 10)),
		WithMinimumCalls(conf.GetInt("CircuitBreaker.minimumNumberOfCalls", 5)),
		WithFailureRateThreshold(conf.GetFloat64("CircuitBreaker.failureRateThreshold", 60)),
		WithMaxRequests(conf.GetInt("CircuitBreaker.permittedCallsInHalfOpenState", 3)),
		WithOpenTimeout(conf.GetDuration("CircuitBreaker.waitDurationInOpenState", 30, time.Second)),
		WithLogger(r.log),
	}

	for _, name := range names {
		r.add(name)
	}
	return r
}

// Breaker returns the named breaker, creating it on first use.
func (r *Registry) Breaker(name string, opts ...Opt) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	return r.add(name, opts...)
}

func (r *Registry) add(name string, opts ...Opt) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := newBreaker(name, r.onTransition, append(append([]Opt{}, r.config.opts...), opts...)...)
	r.breakers[name] = b
	r.stateGauge(name).Gauge(stateValue(StateClosed))
	return b
}

// Register attaches a listener to the named breaker. A listener registered while its
// breaker is open starts paused.
func (r *Registry) Register(name string, l Listener) {
	b := r.Breaker(name)

	r.mu.Lock()
	r.listeners[name] = append(r.listeners[name], l)
	r.mu.Unlock()

	if b.State() != StateClosed {
		r.pause(name, l)
	}
}

func (r *Registry) onTransition(name string, from, to State) {
	r.stateGauge(name).Gauge(stateValue(to))
	r.statsFactory.NewTaggedStat("circuit_breaker_transitions", stats.CountType, stats.Tags{
		"name": name,
		"from": string(from),
		"to":   string(to),
	}).Increment()

	switch to {
	case StateOpen:
		r.log.Warnn("Circuit breaker opened, pausing listeners", logger.NewStringField("name", name))
		for _, l := range r.listenersOf(name) {
			r.pause(name, l)
		}
	case StateHalfOpen:
		r.log.Infon("Circuit breaker half-open, listeners stay paused", logger.NewStringField("name", name))
	case StateClosed:
		r.log.Infon("Circuit breaker closed, resuming listeners", logger.NewStringField("name", name))
		for _, l := range r.listenersOf(name) {
			r.resume(name, l)
		}
	}
}

func (r *Registry) pause(name string, l Listener) {
	if l.IsPaused() {
		r.log.Debugn("Listener already paused",
			logger.NewStringField("name", name),
			logger.NewStringField("listenerId", l.ID()),
		)
		return
	}
	l.Pause()
	r.log.Infon("Paused listener",
		logger.NewStringField("name", name),
		logger.NewStringField("listenerId", l.ID()),
	)
}

func (r *Registry) resume(name string, l Listener) {
	if !l.IsPaused() {
		r.log.Debugn("Listener already running",
			logger.NewStringField("name", name),
			logger.NewStringField("listenerId", l.ID()),
		)
		return
	}
	l.Resume()
	r.log.Infon("Resumed listener",
		logger.NewStringField("name", name),
		logger.NewStringField("listenerId", l.ID()),
	)
}

func (r *Registry) PauseAll() {
	for _, name := range r.names() {
		for _, l := range r.listenersOf(name) {
			r.pause(name, l)
		}
	}
}

func (r *Registry) ResumeAll() {
	for _, name := range r.names() {
		for _, l := range r.listenersOf(name) {
			r.resume(name, l)
		}
	}
}

// Run probes every breaker that is not closed until ctx is cancelled, so that a breaker
// whose listeners are paused can still recover without live traffic.
func (r *Registry) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.config.probeInterval.Load()):
		}
		r.probe(ctx)
	}
}

func (r *Registry) probe(ctx context.Context) {
	if r.pinger == nil {
		return
	}
	for _, name := range r.names() {
		b := r.Breaker(name)
		if b.State() == StateClosed {
			continue
		}
		err := b.Execute(func() error {
			return r.pinger.Ping(ctx)
		})
		if err != nil {
			r.log.Debugn("Circuit breaker probe failed",
				logger.NewStringField("name", name),
				obskit.Error(err),
			)
		}
	}
}

type ListenerStatus struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
	Paused  bool   `json:"paused"`
}

type BreakerStatus struct {
	Name            string           `json:"name"`
	State           State            `json:"state"`
	FailureRate     float64          `json:"failureRate"`
	BufferedCalls   int              `json:"bufferedCalls"`
	FailedCalls     int              `json:"failedCalls"`
	SuccessfulCalls int              `json:"successfulCalls"`
	Listeners       []ListenerStatus `json:"listeners"`
}

// Status reports every breaker, ordered by name.
func (r *Registry) Status() []BreakerStatus {
	names := r.names()
	out := make([]BreakerStatus, 0, len(names))
	for _, name := range names {
		b := r.Breaker(name)
		m := b.Metrics()
		s := BreakerStatus{
			Name:            name,
			State:           b.State(),
			FailureRate:     m.FailureRate,
			BufferedCalls:   m.BufferedCalls,
			FailedCalls:     m.FailedCalls,
			SuccessfulCalls: m.SuccessfulCalls,
			Listeners:       []ListenerStatus{},
		}
		for _, l := range r.listenersOf(name) {
			s.Listeners = append(s.Listeners, ListenerStatus{
				ID:      l.ID(),
				Running: l.IsRunning(),
				Paused:  l.IsPaused(),
			})
		}
		out = append(out, s)
	}
	return out
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) listenersOf(name string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Listener(nil), r.listeners[name]...)
}

func (r *Registry) stateGauge(name string) stats.Measurement {
	return r.statsFactory.NewTaggedStat("circuit_breaker_state", stats.GaugeType, stats.Tags{"name": name})
}

func stateValue(s State) int {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
