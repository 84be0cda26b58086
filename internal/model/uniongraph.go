package model

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusFailed     OrderStatus = "FAILED"
)

var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusFailed,
}

func (s OrderStatus) String() string { return string(s) }

// DatasetFilters narrows the datasets merged into a union graph. A nil field means "any".
type DatasetFilters struct {
	IsOpenData                 *bool `json:"isOpenData,omitempty"`
	IsRelatedToTransportportal *bool `json:"isRelatedToTransportportal,omitempty"`
}

func (f *DatasetFilters) Empty() bool {
	return f == nil || (f.IsOpenData == nil && f.IsRelatedToTransportportal == nil)
}

type ResourceFilters struct {
	Dataset *DatasetFilters `json:"dataset,omitempty"`
}

// Normalized drops empty filter groups, returning nil when nothing is left.
func (f *ResourceFilters) Normalized() *ResourceFilters {
	if f == nil || f.Dataset.Empty() {
		return nil
	}
	dataset := *f.Dataset
	return &ResourceFilters{Dataset: &dataset}
}

// UnionGraphOrder is a request to build, and keep rebuilding, a merged graph of stored resources.
type UnionGraphOrder struct {
	ID     string
	Status OrderStatus

	ResourceTypes                    []ResourceType
	UpdateTTLHours                   int
	WebhookURL                       string
	ResourceFilters                  *ResourceFilters
	ExpandDistributionAccessServices bool
	Format                           string
	Style                            string
	ExpandURIs                       bool
	Name                             string
	Description                      string

	GraphData    json.RawMessage
	ErrorMessage string
	LockedBy     string

	LockedAt            time.Time
	ProcessingStartedAt time.Time
	ProcessedAt         time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EffectiveResourceTypes returns the configured types, or every type when none are configured.
func (o *UnionGraphOrder) EffectiveResourceTypes() []ResourceType {
	if len(o.ResourceTypes) == 0 {
		return ResourceTypes
	}
	return o.ResourceTypes
}

func (o *UnionGraphOrder) DatasetFilters() *DatasetFilters {
	if f := o.ResourceFilters.Normalized(); f != nil {
		return f.Dataset
	}
	return nil
}

// OrderConfiguration is the identity of an order: two orders with equal configurations are the same order.
type OrderConfiguration struct {
	ResourceTypes                    []ResourceType
	UpdateTTLHours                   int
	WebhookURL                       string
	ResourceFilters                  *ResourceFilters
	ExpandDistributionAccessServices bool
	Format                           string
	Style                            string
	ExpandURIs                       bool
}
