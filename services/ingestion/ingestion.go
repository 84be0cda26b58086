// Package ingestion consumes the resource event topics and writes them to the resource store.
// Every topic is served by a set of listeners guarded by the circuit breaker of its name.
package ingestion

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/circuitbreaker"
)

// RdfParse is the breaker and listener name of the rdf-parse topic
const RdfParse = "rdf-parse"

var defaultTopics = map[string]string{
	model.ResourceTypeConcept.Lower():          "concept-events",
	model.ResourceTypeDataset.Lower():          "dataset-events",
	model.ResourceTypeDataService.Lower():      "data-service-events",
	model.ResourceTypeInformationModel.Lower(): "information-model-events",
	model.ResourceTypeService.Lower():          "service-events",
	model.ResourceTypeEvent.Lower():            "event-events",
	RdfParse:                                   "rdf-parse-events",
}

// BreakerNames lists the breaker of every topic: one per resource type plus rdf-parse
func BreakerNames() []string {
	names := make([]string, 0, len(model.ResourceTypes)+1)
	for _, rt := range model.ResourceTypes {
		names = append(names, rt.Lower())
	}
	return append(names, RdfParse)
}

// ConsumerFactory creates a group consumer for a topic
type ConsumerFactory func(topic string) (Consumer, error)

type Pipeline struct {
	log       logger.Logger
	listeners []*listener
}

// New creates the listeners of every topic and registers them with their breakers.
// Ingestion.concurrency listeners are created per topic.
func New(
	conf *config.Config,
	log logger.Logger,
	statsFactory stats.Stats,
	newConsumer ConsumerFactory,
	registry *circuitbreaker.Registry,
	store Store,
) (*Pipeline, error) {
	c, err := loadCodecs()
	if err != nil {
		return nil, err
	}

	var (
		concurrency = conf.GetInt("Ingestion.concurrency", 4)
		initial     = conf.GetDuration("Ingestion.initialRetryInterval", 500, time.Millisecond)
		maxInterval = conf.GetDuration("Ingestion.maxRetryInterval", 30, time.Second)
		w           = &writer{store: store, log: log.Child("writer"), statsFactory: statsFactory}
		p           = &Pipeline{log: log}
	)
	newBackoff := func() backoff.BackOff {
		return backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(initial),
			backoff.WithMaxInterval(maxInterval),
			backoff.WithMaxElapsedTime(0),
		)
	}

	handlers := make(map[string]Handler, len(model.ResourceTypes)+1)
	for _, rt := range model.ResourceTypes {
		handlers[rt.Lower()] = newHandler(resourceEventStrategy(c, rt, w))
	}
	handlers[RdfParse] = newHandler(rdfParseStrategy(c, w))

	for _, name := range BreakerNames() {
		topic := conf.GetString("Kafka.topic."+name, defaultTopics[name])
		b := registry.Breaker(name, circuitbreaker.WithIgnoredErrors(ErrMalformed))

		for i := 0; i < concurrency; i++ {
			consumer, err := newConsumer(topic)
			if err != nil {
				p.close()
				return nil, fmt.Errorf("creating consumer for topic %q: %w", topic, err)
			}
			id := name + "-" + strconv.Itoa(i)
			l := &listener{
				id:           id,
				name:         name,
				consumer:     consumer,
				handler:      handlers[name],
				breaker:      b,
				log:          log.Withn(logger.NewStringField("listenerId", id), logger.NewStringField("topic", topic)),
				statsFactory: statsFactory,
				newBackoff:   newBackoff,
			}
			p.listeners = append(p.listeners, l)
			registry.Register(name, l)
		}
	}
	return p, nil
}

// Run blocks until ctx is cancelled, then closes every consumer.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range p.listeners {
		g.Go(func() error {
			l.run(gctx)
			return nil
		})
	}
	err := g.Wait()
	p.close()
	return err
}

func (p *Pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, l := range p.listeners {
		if err := l.consumer.Close(ctx); err != nil {
			p.log.Warnn("Could not close consumer",
				logger.NewStringField("listenerId", l.id),
				obskit.Error(err),
			)
		}
	}
}
