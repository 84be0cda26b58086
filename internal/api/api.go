// Package api serves resources, union graphs and the operational endpoints over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/circuitbreaker"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/uniongraph"
)

var jsonrs = jsoniter.ConfigCompatibleWithStandardLibrary

const apiKeyHeader = "X-API-Key"

type resourceService interface {
	GetJSON(ctx context.Context, id string, resourceType model.ResourceType) (json.RawMessage, error)
	GetJSONByURI(ctx context.Context, uri string, resourceType model.ResourceType) (json.RawMessage, error)
	GetJSONLD(ctx context.Context, id string, resourceType model.ResourceType) (json.RawMessage, error)
	GetJSONLDByURI(ctx context.Context, uri string, resourceType model.ResourceType) (json.RawMessage, error)
	GetEntityByURI(ctx context.Context, uri string) (*model.Resource, error)
}

type unionGraphService interface {
	CreateOrder(ctx context.Context, req uniongraph.OrderRequest) (*model.UnionGraphOrder, bool, error)
	ResetToPending(ctx context.Context, id string) (*model.UnionGraphOrder, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListAll(ctx context.Context) ([]model.UnionGraphOrder, error)
	Get(ctx context.Context, id string) (*model.UnionGraphOrder, error)
	GetGraph(ctx context.Context, id string, format rdf.Format, style rdf.Style, expandURIs bool) (string, error)
}

type breakerRegistry interface {
	Status() []circuitbreaker.BreakerStatus
	PauseAll()
	ResumeAll()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// resourcePaths maps the path segment of every resource type
var resourcePaths = map[string]model.ResourceType{
	"concepts":           model.ResourceTypeConcept,
	"datasets":           model.ResourceTypeDataset,
	"data-services":      model.ResourceTypeDataService,
	"information-models": model.ResourceTypeInformationModel,
	"services":           model.ResourceTypeService,
	"events":             model.ResourceTypeEvent,
}

type API struct {
	log         logger.Logger
	resources   resourceService
	unionGraphs unionGraphService
	breakers    breakerRegistry
	pinger      pinger

	config struct {
		apiKey             string
		corsAllowedOrigins []string
		resetEnabled       config.ValueLoader[bool]
		deleteEnabled      config.ValueLoader[bool]
	}
}

func New(
	conf *config.Config,
	log logger.Logger,
	resources resourceService,
	unionGraphs unionGraphService,
	breakers breakerRegistry,
	pinger pinger,
) *API {
	a := &API{
		log:         log.Child("api"),
		resources:   resources,
		unionGraphs: unionGraphs,
		breakers:    breakers,
		pinger:      pinger,
	}
	a.config.apiKey = conf.GetString("Http.apiKey", "")
	a.config.corsAllowedOrigins = conf.GetStringSlice("Http.corsAllowedOrigins", []string{"*"})
	a.config.resetEnabled = conf.GetReloadableBoolVar(false, "UnionGraph.resetEnabled")
	a.config.deleteEnabled = conf.GetReloadableBoolVar(false, "UnionGraph.deleteEnabled")
	return a
}

// Handler returns the http handler of the service.
//
// Implemented routes:
//   - GET /health
//   - GET /internal/circuit-breakers, POST /internal/circuit-breakers/pause, POST /internal/circuit-breakers/resume
//   - GET /v1/resources/by-uri, GET /v1/resources/by-uri/graph
//   - GET /v1/{type}/{id}, /v1/{type}/by-uri, /v1/{type}/{id}/graph, /v1/{type}/by-uri/graph
//   - POST /v1/union-graphs, GET /v1/union-graphs, GET /v1/union-graphs/{id}/status,
//     GET /v1/union-graphs/{id}/graph, POST /v1/union-graphs/{id}/reset, DELETE /v1/union-graphs/{id}
//   - legacy redirects from the unversioned paths
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   a.config.corsAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Origin", apiKeyHeader},
		ExposedHeaders:   []string{"Content-Type", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           3600,
	}).Handler)
	r.Use(noCache)

	r.Get("/health", a.health)

	r.Route("/internal/circuit-breakers", func(r chi.Router) {
		r.Get("/", a.breakerStatus)
		r.With(a.requireAPIKey).Post("/pause", a.pauseBreakers)
		r.With(a.requireAPIKey).Post("/resume", a.resumeBreakers)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/resources/by-uri", a.entityByURI)
		r.Get("/resources/by-uri/graph", a.entityGraphByURI)

		for path, rt := range resourcePaths {
			r.Route("/"+path, func(r chi.Router) {
				r.Get("/by-uri", a.resourceByURI(rt))
				r.Get("/by-uri/graph", a.resourceGraphByURI(rt))
				r.Get("/{id}", a.resourceByID(rt))
				r.Get("/{id}/graph", a.resourceGraphByID(rt))
			})
		}

		r.Route("/union-graphs", func(r chi.Router) {
			r.Get("/{id}/graph", a.unionGraph)

			r.Group(func(r chi.Router) {
				r.Use(a.requireAPIKey)
				r.Post("/", a.createUnionGraph)
				r.Get("/", a.listUnionGraphs)
				r.Get("/{id}/status", a.unionGraphStatus)
				r.Post("/{id}/reset", a.resetUnionGraph)
				r.Delete("/{id}", a.deleteUnionGraph)
			})
		})
	})

	a.legacyRedirects(r)
	return r
}

func (a *API) legacyRedirects(r chi.Router) {
	for path := range resourcePaths {
		r.Get("/"+path, a.redirect(func(*http.Request) string { return "/v1/" + path }))
		r.Get("/"+path+"/{id}", a.redirect(func(req *http.Request) string {
			return "/v1/" + path + "/" + chi.URLParam(req, "id")
		}))
	}
	r.Get("/ping", a.redirect(func(*http.Request) string { return "/health" }))
	r.Get("/ready", a.redirect(func(*http.Request) string { return "/health" }))
}

func (a *API) redirect(location func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		to := location(r)
		a.log.Infon("Legacy redirect",
			logger.NewStringField("from", r.URL.Path),
			logger.NewStringField("to", to),
		)
		w.Header().Set("Location", to)
		w.WriteHeader(http.StatusTemporaryRedirect)
	}
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// requireAPIKey rejects requests without a key with 403 and requests with a wrong key with 401.
// Without a configured key every request is rejected.
func (a *API) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, present := r.Header[http.CanonicalHeaderKey(apiKeyHeader)]
		switch {
		case !present:
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		case a.config.apiKey == "" || subtle.ConstantTimeCompare([]byte(key[0]), []byte(a.config.apiKey)) != 1:
			a.log.Warnn("Rejected request with an invalid API key", logger.NewStringField("path", r.URL.Path))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid API key"})
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.pinger != nil {
		if err := a.pinger.Ping(r.Context()); err != nil {
			a.log.Warnn("Health check failed", obskit.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (a *API) breakerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.breakers.Status())
}

func (a *API) pauseBreakers(w http.ResponseWriter, _ *http.Request) {
	a.breakers.PauseAll()
	writeJSON(w, http.StatusOK, a.breakers.Status())
}

func (a *API) resumeBreakers(w http.ResponseWriter, _ *http.Request) {
	a.breakers.ResumeAll()
	writeJSON(w, http.StatusOK, a.breakers.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsonrs.Marshal(v)
	if err != nil {
		http.Error(w, "can't marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
