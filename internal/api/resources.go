package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
)

// graphOptions are the negotiated output options of a graph request
type graphOptions struct {
	format     rdf.Format
	style      rdf.Style
	expandURIs bool
}

// parseGraphOptions reads the Accept header and the style and expandUris parameters.
// Any style other than standard is pretty.
func parseGraphOptions(r *http.Request, defaultExpandURIs bool) (graphOptions, error) {
	opts := graphOptions{
		format:     rdf.BestFormat(r.Header.Get("Accept")),
		style:      rdf.StylePretty,
		expandURIs: defaultExpandURIs,
	}
	if strings.EqualFold(r.URL.Query().Get("style"), "standard") {
		opts.style = rdf.StyleStandard
	}
	if v := r.URL.Query().Get("expandUris"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, err
		}
		opts.expandURIs = b
	}
	return opts, nil
}

func (a *API) writeGraph(w http.ResponseWriter, doc json.RawMessage, opts graphOptions, resourceType model.ResourceType) {
	out, err := rdf.Convert(doc, opts.format, opts.style, opts.expandURIs, resourceType)
	if err != nil {
		a.log.Errorn("Converting graph",
			logger.NewStringField("format", opts.format.String()),
			obskit.Error(err),
		)
		http.Error(w, "Failed to convert graph to requested format", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", rdf.ContentType(opts.format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func requiredURI(w http.ResponseWriter, r *http.Request) (string, bool) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		http.Error(w, "uri is required", http.StatusBadRequest)
		return "", false
	}
	return uri, true
}

func (a *API) lookupFailed(w http.ResponseWriter, err error, fields ...logger.Field) {
	a.log.Errorn("Looking up resource", append(fields, obskit.Error(err))...)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (a *API) resourceByID(rt model.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		doc, err := a.resources.GetJSON(r.Context(), id, rt)
		if err != nil {
			a.lookupFailed(w, err, logger.NewStringField("resourceId", id))
			return
		}
		if len(doc) == 0 {
			http.NotFound(w, r)
			return
		}
		writeRawJSON(w, doc)
	}
}

func (a *API) resourceByURI(rt model.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uri, ok := requiredURI(w, r)
		if !ok {
			return
		}
		doc, err := a.resources.GetJSONByURI(r.Context(), uri, rt)
		if err != nil {
			a.lookupFailed(w, err, logger.NewStringField("uri", uri))
			return
		}
		if len(doc) == 0 {
			http.NotFound(w, r)
			return
		}
		writeRawJSON(w, doc)
	}
}

// single type graphs compact URIs unless asked otherwise
func (a *API) resourceGraphByID(rt model.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := parseGraphOptions(r, false)
		if err != nil {
			http.Error(w, "invalid expandUris", http.StatusBadRequest)
			return
		}
		id := chi.URLParam(r, "id")
		doc, err := a.resources.GetJSONLD(r.Context(), id, rt)
		if err != nil {
			a.lookupFailed(w, err, logger.NewStringField("resourceId", id))
			return
		}
		if len(doc) == 0 {
			http.NotFound(w, r)
			return
		}
		a.writeGraph(w, doc, opts, rt)
	}
}

func (a *API) resourceGraphByURI(rt model.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := parseGraphOptions(r, false)
		if err != nil {
			http.Error(w, "invalid expandUris", http.StatusBadRequest)
			return
		}
		uri, ok := requiredURI(w, r)
		if !ok {
			return
		}
		doc, err := a.resources.GetJSONLDByURI(r.Context(), uri, rt)
		if err != nil {
			a.lookupFailed(w, err, logger.NewStringField("uri", uri))
			return
		}
		if len(doc) == 0 {
			http.NotFound(w, r)
			return
		}
		a.writeGraph(w, doc, opts, rt)
	}
}

func (a *API) entityByURI(w http.ResponseWriter, r *http.Request) {
	uri, ok := requiredURI(w, r)
	if !ok {
		return
	}
	res, err := a.resources.GetEntityByURI(r.Context(), uri)
	if err != nil {
		a.lookupFailed(w, err, logger.NewStringField("uri", uri))
		return
	}
	if res == nil || len(res.JSON) == 0 {
		http.NotFound(w, r)
		return
	}
	writeRawJSON(w, res.JSON)
}

func (a *API) entityGraphByURI(w http.ResponseWriter, r *http.Request) {
	opts, err := parseGraphOptions(r, true)
	if err != nil {
		http.Error(w, "invalid expandUris", http.StatusBadRequest)
		return
	}
	uri, ok := requiredURI(w, r)
	if !ok {
		return
	}
	res, err := a.resources.GetEntityByURI(r.Context(), uri)
	if err != nil {
		a.lookupFailed(w, err, logger.NewStringField("uri", uri))
		return
	}
	if res == nil || len(res.JSONLD) == 0 {
		http.NotFound(w, r)
		return
	}
	a.writeGraph(w, res.JSONLD, opts, res.ResourceType)
}
