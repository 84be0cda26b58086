package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/services/circuitbreaker"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/streammanager/kafka/client"
)

// Consumer reads messages from one topic as a member of a consumer group
type Consumer interface {
	Receive(ctx context.Context) (client.Message, error)
	Commit(ctx context.Context, msgs ...client.Message) error
	Close(ctx context.Context) error
}

type breaker interface {
	Execute(fn func() error) error
}

// listener consumes one message at a time. A message is committed once it is stored or found
// to be malformed; any other failure keeps it in hand and retries it after a backoff, so
// nothing else is fetched until it succeeds.
type listener struct {
	id           string
	name         string
	consumer     Consumer
	handler      Handler
	breaker      breaker
	log          logger.Logger
	statsFactory stats.Stats
	newBackoff   func() backoff.BackOff

	started atomic.Bool

	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func (l *listener) ID() string { return l.id }

func (l *listener) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		return
	}
	l.paused = true
	l.resumed = make(chan struct{})
}

func (l *listener) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paused {
		return
	}
	l.paused = false
	close(l.resumed)
}

func (l *listener) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *listener) IsRunning() bool {
	return l.started.Load() && !l.IsPaused()
}

// waitResumed blocks while the listener is paused
func (l *listener) waitResumed(ctx context.Context) error {
	l.mu.Lock()
	paused, resumed := l.paused, l.resumed
	l.mu.Unlock()
	if !paused {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resumed:
		return nil
	}
}

func (l *listener) run(ctx context.Context) {
	l.started.Store(true)
	defer l.started.Store(false)

	fetchBackoff := backoff.WithContext(l.newBackoff(), ctx)
	for {
		if err := l.waitResumed(ctx); err != nil {
			return
		}
		msg, err := l.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warnn("Could not fetch message", obskit.Error(err))
			if !sleep(ctx, fetchBackoff.NextBackOff()) {
				return
			}
			continue
		}
		fetchBackoff.Reset()

		if err := l.process(ctx, msg); err != nil {
			return
		}
	}
}

// process returns an error only when ctx is done
func (l *listener) process(ctx context.Context, msg client.Message) error {
	log := l.log.Withn(
		logger.NewIntField("partition", int64(msg.Partition)),
		logger.NewIntField("offset", msg.Offset),
	)

	task, err := l.handler.Prepare(msg.Value)
	if err != nil {
		log.Warnn("Could not extract event from message, committing to skip", obskit.Error(err))
		l.count("extract_failed")
		return l.commit(ctx, log, msg)
	}

	retry := backoff.WithContext(l.newBackoff(), ctx)
	for attempt := 1; ; attempt++ {
		if err := l.waitResumed(ctx); err != nil {
			return err
		}

		err := l.breaker.Execute(func() error { return task(ctx) })
		switch {
		case err == nil:
			l.count("success")
			return l.commit(ctx, log, msg)
		case errors.Is(err, ErrMalformed):
			log.Warnn("Skipping malformed event", obskit.Error(err))
			l.count("malformed")
			return l.commit(ctx, log, msg)
		case errors.Is(err, circuitbreaker.ErrCallNotPermitted):
			log.Debugn("Circuit breaker rejected the event, it will be redelivered", obskit.Error(err))
			l.count("rejected")
		default:
			log.Errorn("Failed to process event, it will be redelivered",
				logger.NewIntField("attempt", int64(attempt)),
				obskit.Error(err),
			)
			l.count("failed")
		}

		if !sleep(ctx, retry.NextBackOff()) {
			return ctx.Err()
		}
	}
}

func (l *listener) commit(ctx context.Context, log logger.Logger, msg client.Message) error {
	if err := l.consumer.Commit(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnn("Could not commit message", obskit.Error(err))
	}
	return nil
}

func (l *listener) count(outcome string) {
	l.statsFactory.NewTaggedStat("ingestion_events", stats.CountType, stats.Tags{
		"name":    l.name,
		"outcome": outcome,
	}).Increment()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
