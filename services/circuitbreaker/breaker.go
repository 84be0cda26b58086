// Package circuitbreaker guards the ingestion path. Every breaker trips on the failure
// rate of a count based sliding window and reports its transitions to a Registry,
// which pauses and resumes the listeners attached to it.
package circuitbreaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rudderlabs/rudder-go-kit/logger"
)

// ErrCallNotPermitted is returned while a breaker is open, or half-open with every trial call in flight.
var ErrCallNotPermitted = errors.New("circuit breaker call not permitted")

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type Opt func(*cfg)

func WithSlidingWindowSize(size int) Opt {
	return func(c *cfg) {
		c.windowSize = size
	}
}

func WithMinimumCalls(minCalls int) Opt {
	return func(c *cfg) {
		c.minCalls = minCalls
	}
}

func WithFailureRateThreshold(threshold float64) Opt {
	return func(c *cfg) {
		c.failureRateThreshold = threshold
	}
}

func WithMaxRequests(maxRequests int) Opt {
	return func(c *cfg) {
		c.maxRequests = maxRequests
	}
}

func WithOpenTimeout(timeout time.Duration) Opt {
	return func(c *cfg) {
		c.openTimeout = timeout
	}
}

// WithIgnoredErrors excludes errors matching any of errs from the failure rate.
func WithIgnoredErrors(errs ...error) Opt {
	return func(c *cfg) {
		c.ignored = append(c.ignored, errs...)
	}
}

func WithLogger(log logger.Logger) Opt {
	return func(c *cfg) {
		c.logger = log
	}
}

type cfg struct {
	windowSize           int
	minCalls             int
	failureRateThreshold float64
	maxRequests          int
	openTimeout          time.Duration
	ignored              []error
	logger               logger.Logger
}

type transitionFn func(name string, from, to State)

type Breaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	window *slidingWindow
	cfg    cfg
}

func newBreaker(name string, onTransition transitionFn, opts ...Opt) *Breaker {
	c := cfg{
		windowSize:           10,
		minCalls:             5,
		failureRateThreshold: 60,
		maxRequests:          3,
		openTimeout:          30 * time.Second,
		logger:               logger.NOP,
	}
	for _, opt := range opts {
		opt(&c)
	}

	b := &Breaker{
		name:   name,
		window: newSlidingWindow(c.windowSize),
		cfg:    c,
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(c.maxRequests),
		Interval:    0,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(gobreaker.Counts) bool {
			rate := b.window.snapshot().failureRate(c.minCalls)
			return rate >= 0 && rate >= c.failureRateThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || b.ignored(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.window.reset()
			c.logger.Infon("Circuit breaker state changed",
				logger.NewStringField("name", name),
				logger.NewStringField("from", string(fromGobreaker(from))),
				logger.NewStringField("to", string(fromGobreaker(to))),
			)
			if onTransition != nil {
				onTransition(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})
	return b
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Execute runs fn through the breaker. When the breaker rejects the call fn is not run
// and the returned error wraps ErrCallNotPermitted.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		err := fn()
		if err == nil || !b.ignored(err) {
			b.window.record(err != nil)
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s is %s", ErrCallNotPermitted, b.name, b.State())
	}
	return err
}

func (b *Breaker) ignored(err error) bool {
	for _, target := range b.cfg.ignored {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Metrics describes the current sliding window of a breaker.
type Metrics struct {
	FailureRate     float64
	BufferedCalls   int
	FailedCalls     int
	SuccessfulCalls int
}

func (b *Breaker) Metrics() Metrics {
	s := b.window.snapshot()
	return Metrics{
		FailureRate:     s.failureRate(b.cfg.minCalls),
		BufferedCalls:   s.buffered,
		FailedCalls:     s.failed,
		SuccessfulCalls: s.buffered - s.failed,
	}
}
