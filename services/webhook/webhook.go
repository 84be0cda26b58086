// Package webhook notifies order owners about union graph status changes.
package webhook

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

var jsonrs = jsoniter.ConfigCompatibleWithStandardLibrary

// Payload is the JSON body posted to the webhook URL
type Payload struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	PreviousStatus *string  `json:"previousStatus"`
	ResourceTypes  []string `json:"resourceTypes"`
	UpdateTTLHours int      `json:"updateTtlHours"`
	ErrorMessage   *string  `json:"errorMessage"`
	CreatedAt      string   `json:"createdAt"`
	UpdatedAt      string   `json:"updatedAt"`
	ProcessedAt    *string  `json:"processedAt"`
}

func newPayload(order *model.UnionGraphOrder, previousStatus model.OrderStatus) Payload {
	p := Payload{
		ID:             order.ID,
		Status:         order.Status.String(),
		UpdateTTLHours: order.UpdateTTLHours,
		CreatedAt:      order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if order.ResourceTypes != nil {
		p.ResourceTypes = make([]string, len(order.ResourceTypes))
		for i, rt := range order.ResourceTypes {
			p.ResourceTypes[i] = rt.String()
		}
	}
	if previousStatus != "" {
		s := previousStatus.String()
		p.PreviousStatus = &s
	}
	if order.ErrorMessage != "" {
		p.ErrorMessage = &order.ErrorMessage
	}
	if !order.ProcessedAt.IsZero() {
		s := order.ProcessedAt.UTC().Format(time.RFC3339)
		p.ProcessedAt = &s
	}
	return p
}

type Notifier struct {
	client       *retryablehttp.Client
	log          logger.Logger
	statsFactory stats.Stats
	inFlight     sync.WaitGroup
}

type Opt func(*Notifier)

// WithTransport replaces the HTTP transport used for webhook calls.
func WithTransport(rt http.RoundTripper) Opt {
	return func(n *Notifier) {
		n.client.HTTPClient.Transport = rt
	}
}

// New returns a notifier that posts once per status change, without retries.
// Webhook.timeout bounds every call.
func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats, opts ...Opt) *Notifier {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = conf.GetDuration("Webhook.timeout", 10, time.Second)
	client.Logger = nil
	client.RetryMax = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	n := &Notifier{
		client:       client,
		log:          log.Child("webhook"),
		statsFactory: statsFactory,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts the order's status change to its webhook URL in the background.
// The returned channel is closed once the call is over. Failures are logged and never returned.
func (n *Notifier) Notify(order *model.UnionGraphOrder, previousStatus model.OrderStatus) <-chan struct{} {
	done := make(chan struct{})
	if order == nil || order.WebhookURL == "" {
		close(done)
		return done
	}

	url := order.WebhookURL
	payload := newPayload(order, previousStatus)
	n.inFlight.Add(1)
	go func() {
		defer n.inFlight.Done()
		defer close(done)
		n.send(url, payload)
	}()
	return done
}

// Wait blocks until every pending webhook call is over.
func (n *Notifier) Wait() {
	n.inFlight.Wait()
}

func (n *Notifier) send(url string, payload Payload) {
	log := n.log.Withn(
		logger.NewStringField("orderId", payload.ID),
		logger.NewStringField("status", payload.Status),
	)
	start := time.Now()
	outcome := "success"
	defer func() {
		n.statsFactory.NewTaggedStat("union_graph_webhook", stats.TimerType, stats.Tags{
			"outcome": outcome,
		}).Since(start)
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = "failure"
			log.Errorn("Webhook call panicked", obskit.Error(fmt.Errorf("%v", r)))
		}
	}()

	if err := n.post(url, payload); err != nil {
		outcome = "failure"
		log.Errorn("Failed to call webhook", obskit.Error(err))
		return
	}
	log.Infon("Called webhook")
}

func (n *Notifier) post(url string, payload Payload) error {
	body, err := jsonrs.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling webhook payload: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}
