package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

// ErrMalformed marks input that can never be processed. Such messages are committed and skipped,
// and they do not count as breaker failures.
var ErrMalformed = errors.New("malformed event")

type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionHarvested
	ActionRemoved
)

func (a ActionKind) String() string {
	switch a {
	case ActionHarvested:
		return "HARVESTED"
	case ActionRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// ActionKindOf derives the action from an event type such as DATASET_HARVESTED.
// Anything but the HARVESTED and REMOVED suffixes (e.g. *_REASONED) is unknown.
func ActionKindOf(eventType string) ActionKind {
	switch {
	case strings.HasSuffix(eventType, "_HARVESTED"):
		return ActionHarvested
	case strings.HasSuffix(eventType, "_REMOVED"):
		return ActionRemoved
	default:
		return ActionUnknown
	}
}

// ResourceEvent is a harvest or removal event of a single resource graph.
type ResourceEvent struct {
	FdkID        string
	Type         string
	Action       ActionKind
	ResourceType model.ResourceType
	Graph        string
	Timestamp    int64
}

func (c codecs) decodeResourceEvent(resourceType model.ResourceType, payload []byte) (ResourceEvent, error) {
	record, err := c.decode(resourceType.Lower(), payload)
	if err != nil {
		return ResourceEvent{}, err
	}

	e := ResourceEvent{ResourceType: resourceType}
	if e.FdkID, err = requiredString(record, "fdkId"); err != nil {
		return ResourceEvent{}, err
	}
	if e.Type, err = requiredString(record, "type"); err != nil {
		return ResourceEvent{}, err
	}
	if e.Timestamp, err = timestampMillis(record, "timestamp"); err != nil {
		return ResourceEvent{}, err
	}
	e.Graph = optionalString(record, "graph")
	e.Action = ActionKindOf(e.Type)
	return e, nil
}

// RdfParseEvent carries the JSON produced by the RDF parse service for a resource.
type RdfParseEvent struct {
	FdkID        string
	ResourceType model.ResourceType
	Data         string
	Timestamp    int64
}

var rdfParseResourceTypes = map[string]model.ResourceType{
	"DATASERVICE":      model.ResourceTypeDataService,
	"INFORMATIONMODEL": model.ResourceTypeInformationModel,
}

// parseRdfParseResourceType accepts both the compact symbols used by the parse events and the canonical names.
func parseRdfParseResourceType(s string) (model.ResourceType, error) {
	if rt, ok := rdfParseResourceTypes[s]; ok {
		return rt, nil
	}
	return model.ParseResourceType(s)
}

func (c codecs) decodeRdfParseEvent(payload []byte) (RdfParseEvent, error) {
	record, err := c.decode(rdfParseSchema, payload)
	if err != nil {
		return RdfParseEvent{}, err
	}

	var e RdfParseEvent
	if e.FdkID, err = requiredString(record, "fdkId"); err != nil {
		return RdfParseEvent{}, err
	}
	resourceType, err := requiredString(record, "resourceType")
	if err != nil {
		return RdfParseEvent{}, err
	}
	if e.ResourceType, err = parseRdfParseResourceType(resourceType); err != nil {
		return RdfParseEvent{}, fmt.Errorf("rdf parse event %s: %w", e.FdkID, err)
	}
	if e.Timestamp, err = timestampMillis(record, "timestamp"); err != nil {
		return RdfParseEvent{}, err
	}
	e.Data = optionalString(record, "data")
	return e, nil
}
