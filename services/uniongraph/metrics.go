package uniongraph

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

// Progress of a build in flight
type Progress struct {
	ResourceType model.ResourceType `json:"resourceType"`
	Processed    int64              `json:"processed"`
	Total        int64              `json:"total"`
	StartedAt    time.Time          `json:"startedAt"`
}

type metrics struct {
	statsFactory stats.Stats

	created              stats.Measurement
	completed            stats.Measurement
	reset                stats.Measurement
	deleted              stats.Measurement
	resourcesProcessed   stats.Measurement
	dataServicesExpanded stats.Measurement
	processingDuration   stats.Measurement

	// mu serializes progress updates; inFlight is nil when tracking is disabled
	mu       sync.Mutex
	inFlight *lru.Cache[string, Progress]
}

func newMetrics(statsFactory stats.Stats, capacity int) *metrics {
	m := &metrics{
		statsFactory:         statsFactory,
		created:              statsFactory.NewStat("union_graph_orders_created", stats.CountType),
		completed:            statsFactory.NewStat("union_graph_orders_completed", stats.CountType),
		reset:                statsFactory.NewStat("union_graph_orders_reset", stats.CountType),
		deleted:              statsFactory.NewStat("union_graph_orders_deleted", stats.CountType),
		resourcesProcessed:   statsFactory.NewStat("union_graph_resources_processed", stats.CountType),
		dataServicesExpanded: statsFactory.NewStat("union_graph_data_services_expanded", stats.CountType),
		processingDuration:   statsFactory.NewStat("union_graph_processing_duration", stats.TimerType),
	}
	if capacity > 0 {
		m.inFlight, _ = lru.New[string, Progress](capacity)
	}
	return m
}

// failed counts a failed build. reason is one of empty, error.
func (m *metrics) failed(reason string) {
	m.statsFactory.NewTaggedStat("union_graph_orders_failed", stats.CountType, stats.Tags{
		"reason": reason,
	}).Increment()
}

// refreshStatusGauges publishes the number of orders in every status.
func (m *metrics) refreshStatusGauges(ctx context.Context, orders Orders) error {
	counts, err := orders.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range model.OrderStatuses {
		m.statsFactory.NewTaggedStat("union_graph_orders", stats.GaugeType, stats.Tags{
			"status": status.String(),
		}).Gauge(counts[status])
	}
	return nil
}

// start tracks a build. When capacity is reached the oldest tracked build is dropped.
func (m *metrics) start(id string, now time.Time) {
	if m.inFlight == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight.Add(id, Progress{StartedAt: now})
}

func (m *metrics) progress(id string, resourceType model.ResourceType, processed, total int64) {
	if m.inFlight != nil {
		m.mu.Lock()
		if p, ok := m.inFlight.Peek(id); ok {
			p.ResourceType, p.Processed, p.Total = resourceType, processed, total
			m.inFlight.Add(id, p)
		}
		m.mu.Unlock()
	}

	if total > 0 {
		m.statsFactory.NewTaggedStat("union_graph_build_progress", stats.GaugeType, stats.Tags{
			"resourceType": resourceType.Lower(),
		}).Gauge(float64(processed) / float64(total) * 100)
	}
}

func (m *metrics) finish(id string) {
	if m.inFlight == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight.Remove(id)
}

func (m *metrics) snapshot() map[string]Progress {
	out := make(map[string]Progress)
	if m.inFlight == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.inFlight.Keys() {
		if p, ok := m.inFlight.Peek(id); ok {
			out[id] = p
		}
	}
	return out
}
