package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/uniongraph"
)

type orderRequest struct {
	ResourceTypes                    []string               `json:"resourceTypes"`
	UpdateTTLHours                   *int                   `json:"updateTtlHours"`
	WebhookURL                       string                 `json:"webhookUrl"`
	ResourceFilters                  *model.ResourceFilters `json:"resourceFilters"`
	ExpandDistributionAccessServices bool                   `json:"expandDistributionAccessServices"`
	Format                           string                 `json:"format"`
	Style                            string                 `json:"style"`
	ExpandURIs                       *bool                  `json:"expandUris"`
	Name                             string                 `json:"name"`
	Description                      string                 `json:"description"`
}

type orderResponse struct {
	ID                               string                 `json:"id"`
	Status                           string                 `json:"status"`
	ResourceTypes                    []model.ResourceType   `json:"resourceTypes"`
	UpdateTTLHours                   int                    `json:"updateTtlHours"`
	WebhookURL                       *string                `json:"webhookUrl"`
	ErrorMessage                     *string                `json:"errorMessage"`
	CreatedAt                        string                 `json:"createdAt"`
	UpdatedAt                        string                 `json:"updatedAt"`
	ProcessedAt                      *string                `json:"processedAt"`
	ResourceFilters                  *model.ResourceFilters `json:"resourceFilters"`
	ExpandDistributionAccessServices bool                   `json:"expandDistributionAccessServices"`
	Format                           string                 `json:"format"`
	Style                            string                 `json:"style"`
	ExpandURIs                       bool                   `json:"expandUris"`
	Name                             string                 `json:"name,omitempty"`
	Description                      string                 `json:"description,omitempty"`
}

func newOrderResponse(o *model.UnionGraphOrder) orderResponse {
	resp := orderResponse{
		ID:                               o.ID,
		Status:                           o.Status.String(),
		ResourceTypes:                    o.ResourceTypes,
		UpdateTTLHours:                   o.UpdateTTLHours,
		CreatedAt:                        o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:                        o.UpdatedAt.UTC().Format(time.RFC3339),
		ResourceFilters:                  o.ResourceFilters.Normalized(),
		ExpandDistributionAccessServices: o.ExpandDistributionAccessServices,
		Format:                           o.Format,
		Style:                            o.Style,
		ExpandURIs:                       o.ExpandURIs,
		Name:                             o.Name,
		Description:                      o.Description,
	}
	if o.WebhookURL != "" {
		resp.WebhookURL = &o.WebhookURL
	}
	if o.ErrorMessage != "" {
		resp.ErrorMessage = &o.ErrorMessage
	}
	if !o.ProcessedAt.IsZero() {
		processedAt := o.ProcessedAt.UTC().Format(time.RFC3339)
		resp.ProcessedAt = &processedAt
	}
	return resp
}

func (a *API) toOrderRequest(body orderRequest) (uniongraph.OrderRequest, error) {
	req := uniongraph.OrderRequest{
		WebhookURL:                       body.WebhookURL,
		ResourceFilters:                  body.ResourceFilters,
		ExpandDistributionAccessServices: body.ExpandDistributionAccessServices,
		ExpandURIs:                       body.ExpandURIs,
		Name:                             body.Name,
		Description:                      body.Description,
	}
	if body.UpdateTTLHours != nil {
		req.UpdateTTLHours = *body.UpdateTTLHours
	}
	for _, name := range body.ResourceTypes {
		rt, err := model.ParseResourceType(name)
		if err != nil {
			a.log.Warnn("Ignoring unknown resource type", logger.NewStringField("resourceType", name))
			continue
		}
		req.ResourceTypes = append(req.ResourceTypes, rt)
	}
	if body.Format != "" {
		f, err := rdf.ParseFormat(body.Format)
		if err != nil {
			return req, err
		}
		req.Format = f
	}
	if body.Style != "" {
		s, err := rdf.ParseStyle(body.Style)
		if err != nil {
			return req, err
		}
		req.Style = s
	}
	return req, nil
}

func (a *API) createUnionGraph(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var body orderRequest
	if r.ContentLength != 0 {
		if err := jsonrs.NewDecoder(r.Body).Decode(&body); err != nil {
			a.log.Warnn("Invalid union graph request body", obskit.Error(err))
			http.Error(w, "can't unmarshal body", http.StatusBadRequest)
			return
		}
	}
	req, err := a.toOrderRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	order, isNew, err := a.unionGraphs.CreateOrder(r.Context(), req)
	if errors.Is(err, uniongraph.ErrValidation) {
		a.log.Warnn("Rejected union graph order", obskit.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		a.log.Errorn("Creating union graph order", obskit.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusConflict
	if isNew {
		status = http.StatusCreated
	}
	w.Header().Set("Location", "/v1/union-graphs/"+order.ID)
	writeJSON(w, status, newOrderResponse(order))
}

func (a *API) listUnionGraphs(w http.ResponseWriter, r *http.Request) {
	orders, err := a.unionGraphs.ListAll(r.Context())
	if err != nil {
		a.log.Errorn("Listing union graph orders", obskit.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) unionGraphStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := a.unionGraphs.Get(r.Context(), id)
	if a.orderLookupFailed(w, r, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// unionGraph is public: no API key is required to download a built graph
func (a *API) unionGraph(w http.ResponseWriter, r *http.Request) {
	opts, err := parseGraphOptions(r, true)
	if err != nil {
		http.Error(w, "invalid expandUris", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	graph, err := a.unionGraphs.GetGraph(r.Context(), id, opts.format, opts.style, opts.expandURIs)
	var notCompleted *uniongraph.NotCompletedError
	switch {
	case errors.As(err, &notCompleted):
		http.Error(w, "Graph is not yet completed. Current status: "+notCompleted.Status.String(), http.StatusBadRequest)
		return
	case errors.Is(err, rdf.ErrConversion):
		a.log.Errorn("Converting union graph", logger.NewStringField("orderId", id), obskit.Error(err))
		http.Error(w, "Failed to convert graph to requested format", http.StatusInternalServerError)
		return
	case a.orderLookupFailed(w, r, id, err):
		return
	}
	w.Header().Set("Content-Type", rdf.ContentType(opts.format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(graph))
}

func (a *API) resetUnionGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.config.resetEnabled.Load() {
		a.log.Warnn("Reset endpoint is disabled", logger.NewStringField("orderId", id))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	order, err := a.unionGraphs.ResetToPending(r.Context(), id)
	if a.orderLookupFailed(w, r, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *API) deleteUnionGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.config.deleteEnabled.Load() {
		a.log.Warnn("Delete endpoint is disabled", logger.NewStringField("orderId", id))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	deleted, err := a.unionGraphs.Delete(r.Context(), id)
	if err != nil {
		a.log.Errorn("Deleting union graph order", logger.NewStringField("orderId", id), obskit.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// orderLookupFailed writes the response of a failed order lookup and reports whether there was one
func (a *API) orderLookupFailed(w http.ResponseWriter, r *http.Request, id string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		http.NotFound(w, r)
	default:
		a.log.Errorn("Looking up union graph order", logger.NewStringField("orderId", id), obskit.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
	return true
}
