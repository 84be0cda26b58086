package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ResourceType string

const (
	ResourceTypeConcept          ResourceType = "CONCEPT"
	ResourceTypeDataset          ResourceType = "DATASET"
	ResourceTypeDataService      ResourceType = "DATA_SERVICE"
	ResourceTypeInformationModel ResourceType = "INFORMATION_MODEL"
	ResourceTypeService          ResourceType = "SERVICE"
	ResourceTypeEvent            ResourceType = "EVENT"
)

// ResourceTypes lists every resource type in declaration order.
var ResourceTypes = []ResourceType{
	ResourceTypeConcept,
	ResourceTypeDataset,
	ResourceTypeDataService,
	ResourceTypeInformationModel,
	ResourceTypeService,
	ResourceTypeEvent,
}

func (t ResourceType) String() string { return string(t) }

// Lower returns the snake case form used for metric tags and log fields.
func (t ResourceType) Lower() string { return strings.ToLower(string(t)) }

func (t ResourceType) Valid() bool {
	for _, rt := range ResourceTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// ParseResourceType parses a resource type name case-insensitively.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.ToUpper(strings.TrimSpace(s)))
	if !rt.Valid() {
		return "", fmt.Errorf("unknown resource type: %q", s)
	}
	return rt, nil
}

// Resource is a single stored resource graph.
type Resource struct {
	ID           string
	ResourceType ResourceType

	JSON   json.RawMessage
	JSONLD json.RawMessage

	URI       string
	Timestamp int64
	Deleted   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
