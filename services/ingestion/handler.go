package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
)

var jsonrs = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// Store is the subset of the resource repository written by the ingestion pipeline
type Store interface {
	ShouldUpdate(ctx context.Context, id string, timestamp int64) (bool, error)
	UpsertJSON(ctx context.Context, id string, resourceType model.ResourceType, doc []byte, uri string, timestamp int64) (bool, error)
	UpsertJSONLD(ctx context.Context, id string, resourceType model.ResourceType, doc []byte, timestamp int64) (bool, error)
	MarkDeleted(ctx context.Context, id string, resourceType model.ResourceType, timestamp int64) (bool, error)
}

// Task writes one extracted event
type Task func(ctx context.Context) error

// Handler turns a raw message value into a task. Extraction errors wrap ErrMalformed.
type Handler interface {
	Prepare(payload []byte) (Task, error)
}

// strategy pairs the extraction of an event with the way it is written
type strategy[E any] struct {
	extract func(payload []byte) (E, error)
	write   func(ctx context.Context, e E) error
}

type handler[E any] struct {
	strategy[E]
}

func newHandler[E any](s strategy[E]) *handler[E] {
	return &handler[E]{strategy: s}
}

func (h *handler[E]) Prepare(payload []byte) (Task, error) {
	e, err := h.extract(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return func(ctx context.Context) error {
		return h.write(ctx, e)
	}, nil
}

type writer struct {
	store        Store
	log          logger.Logger
	statsFactory stats.Stats
}

// resourceEventStrategy handles the per type topics: harvested graphs are stored as JSON-LD,
// removals become tombstones.
func resourceEventStrategy(c codecs, resourceType model.ResourceType, w *writer) strategy[ResourceEvent] {
	return strategy[ResourceEvent]{
		extract: func(payload []byte) (ResourceEvent, error) {
			return c.decodeResourceEvent(resourceType, payload)
		},
		write: w.writeResourceEvent,
	}
}

// rdfParseStrategy handles the rdf-parse topic: the parsed JSON is stored under the payload's type.
func rdfParseStrategy(c codecs, w *writer) strategy[RdfParseEvent] {
	return strategy[RdfParseEvent]{
		extract: c.decodeRdfParseEvent,
		write:   w.writeRdfParseEvent,
	}
}

func (w *writer) writeResourceEvent(ctx context.Context, e ResourceEvent) (err error) {
	log := w.log.Withn(
		logger.NewStringField("fdkId", e.FdkID),
		logger.NewStringField("resourceType", e.ResourceType.String()),
		logger.NewStringField("eventType", e.Type),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			w.countError("store_resource_jsonld_error", e.ResourceType.Lower(), err)
			return
		}
		w.statsFactory.NewTaggedStat("store_resource_jsonld", stats.TimerType, stats.Tags{
			"type": e.ResourceType.Lower(),
		}).Since(start)
	}()

	switch e.Action {
	case ActionHarvested:
		update, err := w.store.ShouldUpdate(ctx, e.FdkID, e.Timestamp)
		if err != nil {
			return fmt.Errorf("checking timestamp of %s: %w", e.FdkID, err)
		}
		if !update {
			log.Debugn("Skipped event with an older timestamp")
			return nil
		}

		doc := rdf.TurtleToJSONLD(e.Graph, true)
		if len(doc) == 0 {
			log.Errorn("JSON-LD conversion returned an empty document", logger.NewIntField("graphLength", int64(len(e.Graph))))
			return fmt.Errorf("%w: empty JSON-LD conversion for %s", ErrMalformed, e.FdkID)
		}
		raw, err := jsonrs.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshalling JSON-LD of %s: %w", e.FdkID, err)
		}
		stored, err := w.store.UpsertJSONLD(ctx, e.FdkID, e.ResourceType, raw, e.Timestamp)
		if err != nil {
			return fmt.Errorf("storing JSON-LD of %s: %w", e.FdkID, err)
		}
		log.Debugn("Stored harvested resource", logger.NewBoolField("stored", stored))
	case ActionRemoved:
		stored, err := w.store.MarkDeleted(ctx, e.FdkID, e.ResourceType, e.Timestamp)
		if err != nil {
			return fmt.Errorf("marking %s as deleted: %w", e.FdkID, err)
		}
		log.Debugn("Marked resource as deleted", logger.NewBoolField("stored", stored))
	default:
		log.Warnn("Ignoring event with unknown action")
	}
	return nil
}

func (w *writer) writeRdfParseEvent(ctx context.Context, e RdfParseEvent) (err error) {
	log := w.log.Withn(
		logger.NewStringField("fdkId", e.FdkID),
		logger.NewStringField("resourceType", e.ResourceType.String()),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			w.countError("store_resource_json_error", e.ResourceType.Lower(), err)
			return
		}
		w.statsFactory.NewTaggedStat("store_resource_json", stats.TimerType, stats.Tags{
			"type": e.ResourceType.Lower(),
		}).Since(start)
	}()

	update, err := w.store.ShouldUpdate(ctx, e.FdkID, e.Timestamp)
	if err != nil {
		return fmt.Errorf("checking timestamp of %s: %w", e.FdkID, err)
	}
	if !update {
		log.Debugn("Skipped event with an older timestamp")
		return nil
	}

	if !gjson.Valid(e.Data) || !gjson.Parse(e.Data).IsObject() {
		log.Errorn("RDF parse event data is not a JSON object", logger.NewIntField("dataLength", int64(len(e.Data))))
		return fmt.Errorf("%w: data of %s is not a JSON object", ErrMalformed, e.FdkID)
	}
	var uri string
	if v := gjson.Get(e.Data, "uri"); v.Type == gjson.String {
		uri = v.String()
	}

	stored, err := w.store.UpsertJSON(ctx, e.FdkID, e.ResourceType, []byte(e.Data), uri, e.Timestamp)
	if err != nil {
		return fmt.Errorf("storing JSON of %s: %w", e.FdkID, err)
	}
	log.Debugn("Stored parsed resource", logger.NewBoolField("stored", stored))
	return nil
}

func (w *writer) countError(name, resourceType string, err error) {
	reason := "store"
	if errors.Is(err, ErrMalformed) {
		reason = "malformed"
	}
	w.statsFactory.NewTaggedStat(name, stats.CountType, stats.Tags{
		"type":  resourceType,
		"error": reason,
	}).Increment()
}
