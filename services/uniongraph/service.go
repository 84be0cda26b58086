// Package uniongraph manages union graph orders: merged graphs of stored resources that are
// built in the background, rebuilt when their ttl expires and reported through webhooks.
package uniongraph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
)

var (
	// ErrValidation is returned when an order request is rejected. Nothing is persisted.
	ErrValidation = errors.New("invalid union graph order")
	// ErrNotCompleted is returned when the graph of an order that has not completed is requested.
	ErrNotCompleted = errors.New("union graph is not completed")
)

// Orders is the order storage used by the service and the processor
type Orders interface {
	Create(ctx context.Context, order *model.UnionGraphOrder) error
	Get(ctx context.Context, id string) (*model.UnionGraphOrder, error)
	GetByConfiguration(ctx context.Context, conf model.OrderConfiguration) (*model.UnionGraphOrder, error)
	List(ctx context.Context) ([]model.UnionGraphOrder, error)
	CountByStatus(ctx context.Context) (map[model.OrderStatus]int64, error)
	FindPendingForProcessing(ctx context.Context, limit int, lockTimeout time.Duration) ([]model.UnionGraphOrder, error)
	Claim(ctx context.Context, id, instanceID string, lockTimeout time.Duration) (bool, error)
	MarkCompleted(ctx context.Context, id string, graphData []byte) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
	ResetToPending(ctx context.Context, id string) (bool, error)
	FindExpired(ctx context.Context) ([]model.UnionGraphOrder, error)
	FindStaleLocks(ctx context.Context, lockTimeout time.Duration) ([]model.UnionGraphOrder, error)
	ReleaseStaleLock(ctx context.Context, id string, lockTimeout time.Duration) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Notifier reports status changes of an order
type Notifier interface {
	Notify(order *model.UnionGraphOrder, previousStatus model.OrderStatus) <-chan struct{}
}

// OrderRequest describes a union graph to build. Zero values select the defaults:
// every resource type, no ttl, JSON-LD in the pretty style with expanded URIs.
type OrderRequest struct {
	ResourceTypes                    []model.ResourceType
	UpdateTTLHours                   int
	WebhookURL                       string
	ResourceFilters                  *model.ResourceFilters
	ExpandDistributionAccessServices bool
	Format                           rdf.Format
	Style                            rdf.Style
	ExpandURIs                       *bool
	Name                             string
	Description                      string
}

type Service struct {
	orders   Orders
	notifier Notifier
	log      logger.Logger
	metrics  *metrics
	newID    func() string
}

func NewService(orders Orders, notifier Notifier, log logger.Logger, statsFactory stats.Stats) *Service {
	return &Service{
		orders:   orders,
		notifier: notifier,
		log:      log.Child("union-graph"),
		metrics:  newMetrics(statsFactory, 0),
		newID:    uuid.NewString,
	}
}

// CreateOrder returns the order matching the request's configuration, creating it when none exists.
// The boolean reports whether a new order was created.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) (*model.UnionGraphOrder, bool, error) {
	conf, err := normalize(req)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.orders.GetByConfiguration(ctx, conf)
	switch {
	case err == nil:
		s.log.Infon("Found union graph order with the same configuration",
			logger.NewStringField("orderId", existing.ID),
			logger.NewStringField("status", existing.Status.String()),
		)
		return existing, false, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, false, fmt.Errorf("looking up union graph order: %w", err)
	}

	order := &model.UnionGraphOrder{
		ID:                               s.newID(),
		Status:                           model.OrderStatusPending,
		ResourceTypes:                    conf.ResourceTypes,
		UpdateTTLHours:                   conf.UpdateTTLHours,
		WebhookURL:                       conf.WebhookURL,
		ResourceFilters:                  conf.ResourceFilters,
		ExpandDistributionAccessServices: conf.ExpandDistributionAccessServices,
		Format:                           conf.Format,
		Style:                            conf.Style,
		ExpandURIs:                       conf.ExpandURIs,
		Name:                             strings.TrimSpace(req.Name),
		Description:                      strings.TrimSpace(req.Description),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, false, fmt.Errorf("creating union graph order: %w", err)
	}
	s.metrics.created.Increment()
	s.log.Infon("Created union graph order",
		logger.NewStringField("orderId", order.ID),
		logger.NewIntField("updateTtlHours", int64(order.UpdateTTLHours)),
	)
	return order, true, nil
}

func normalize(req OrderRequest) (model.OrderConfiguration, error) {
	var conf model.OrderConfiguration

	webhookURL := strings.TrimSpace(req.WebhookURL)
	if webhookURL != "" {
		u, err := url.Parse(webhookURL)
		if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
			return conf, fmt.Errorf("%w: Webhook URL must use HTTPS protocol", ErrValidation)
		}
	}
	if req.UpdateTTLHours < 0 || (req.UpdateTTLHours != 0 && req.UpdateTTLHours <= 3) {
		return conf, fmt.Errorf("%w: updateTtlHours must be 0 (never update) or greater than 3", ErrValidation)
	}
	for _, rt := range req.ResourceTypes {
		if !rt.Valid() {
			return conf, fmt.Errorf("%w: unknown resource type %q", ErrValidation, rt)
		}
	}

	var types []model.ResourceType
	if len(req.ResourceTypes) > 0 {
		types = lo.Uniq(req.ResourceTypes)
		slices.Sort(types)
	}
	filters := req.ResourceFilters.Normalized()
	if filters != nil && len(types) > 0 && !slices.Contains(types, model.ResourceTypeDataset) {
		return conf, fmt.Errorf("%w: Dataset filters require the DATASET resource type", ErrValidation)
	}

	format, style, expandURIs := rdf.FormatJSONLD, rdf.StylePretty, true
	if req.Format != "" {
		format = req.Format
	}
	if req.Style != "" {
		style = req.Style
	}
	if req.ExpandURIs != nil {
		expandURIs = *req.ExpandURIs
	}

	return model.OrderConfiguration{
		ResourceTypes:                    types,
		UpdateTTLHours:                   req.UpdateTTLHours,
		WebhookURL:                       webhookURL,
		ResourceFilters:                  filters,
		ExpandDistributionAccessServices: req.ExpandDistributionAccessServices,
		Format:                           format.String(),
		Style:                            style.String(),
		ExpandURIs:                       expandURIs,
	}, nil
}

// ResetToPending schedules a rebuild of the order and notifies its webhook with the prior status.
func (s *Service) ResetToPending(ctx context.Context, id string) (*model.UnionGraphOrder, error) {
	prev, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.orders.ResetToPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repo.ErrNotFound
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.metrics.reset.Increment()
	s.log.Infon("Reset union graph order to pending",
		logger.NewStringField("orderId", id),
		logger.NewStringField("previousStatus", prev.Status.String()),
	)
	s.notifier.Notify(order, prev.Status)
	return order, nil
}

// Delete removes the order and its graph. It reports whether the order existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.orders.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.metrics.deleted.Increment()
		s.log.Infon("Deleted union graph order", logger.NewStringField("orderId", id))
	}
	return deleted, nil
}

// ListAll returns every order without its graph data, newest first.
func (s *Service) ListAll(ctx context.Context) ([]model.UnionGraphOrder, error) {
	return s.orders.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*model.UnionGraphOrder, error) {
	return s.orders.Get(ctx, id)
}

// NotCompletedError carries the status of an order whose graph is not available yet.
type NotCompletedError struct {
	Status model.OrderStatus
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("%s: current status is %s", ErrNotCompleted, e.Status)
}

func (e *NotCompletedError) Is(target error) bool { return target == ErrNotCompleted }

// GetGraph serializes the built graph of a completed order.
func (s *Service) GetGraph(ctx context.Context, id string, format rdf.Format, style rdf.Style, expandURIs bool) (string, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if order.Status != model.OrderStatusCompleted {
		return "", &NotCompletedError{Status: order.Status}
	}
	if len(order.GraphData) == 0 {
		return "", repo.ErrNotFound
	}
	return rdf.Convert(order.GraphData, format, style, expandURIs, "")
}
