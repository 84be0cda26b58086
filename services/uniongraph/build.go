package uniongraph

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/rudderlabs/rudder-go-kit/logger"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/repo"
	"github.com/Informasjonsforvaltning/fdk-resource-service/services/rdf"
)

// build merges the JSON-LD of every resource selected by the order into one graph and
// returns it as pretty JSON-LD. A nil graph without an error means nothing was merged.
func (p *Processor) build(ctx context.Context, order *model.UnionGraphOrder) ([]byte, error) {
	var (
		log       = p.log.Withn(logger.NewStringField("orderId", order.ID))
		types     = order.EffectiveResourceTypes()
		filters   = order.DatasetFilters()
		batchSize = max(p.config.batchSize, 1)
	)

	var total int64
	for _, rt := range types {
		n, err := p.resources.Count(ctx, pageQuery(rt, filters))
		if err != nil {
			return nil, fmt.Errorf("counting %s resources: %w", rt, err)
		}
		total += n
	}
	if total == 0 {
		log.Infon("No resources to merge")
		return nil, nil
	}

	var (
		union     = rdf.NewGraph()
		expanded  = make(map[string]struct{})
		processed int64
		batches   int
	)
	for _, rt := range types {
		q := pageQuery(rt, filters)
		for offset := 0; ; offset += batchSize {
			page, err := p.resources.Page(ctx, q, offset, batchSize)
			if err != nil {
				return nil, fmt.Errorf("loading %s resources at offset %d: %w", rt, offset, err)
			}

			var accessServices []string
			for i := range page {
				p.merge(union, &page[i], log)
				if order.ExpandDistributionAccessServices && rt == model.ResourceTypeDataset {
					accessServices = append(accessServices, accessServiceURIs(page[i].JSON)...)
				}
			}
			if len(accessServices) > 0 {
				p.expandAccessServices(ctx, union, accessServices, expanded, log)
			}

			processed += int64(len(page))
			p.metrics.resourcesProcessed.Count(len(page))
			batches++
			if batches%max(p.config.progressEveryBatches, 1) == 0 {
				p.metrics.progress(order.ID, rt, processed, total)
				log.Infon("Union graph build progress",
					logger.NewStringField("resourceType", rt.String()),
					logger.NewIntField("processed", processed),
					logger.NewIntField("total", total),
				)
			}
			if len(page) < batchSize {
				break
			}
		}
	}
	p.metrics.progress(order.ID, types[len(types)-1], processed, total)

	if union.Empty() {
		return nil, nil
	}
	graph, err := union.MarshalJSONLD(true)
	if err != nil {
		return nil, fmt.Errorf("serializing union graph: %w", err)
	}
	return graph, nil
}

func pageQuery(rt model.ResourceType, filters *model.DatasetFilters) repo.PageQuery {
	q := repo.PageQuery{ResourceType: rt}
	if rt == model.ResourceTypeDataset {
		q.DatasetFilters = filters
	}
	return q
}

// merge adds the resource's JSON-LD to the union. Resources that cannot be parsed are skipped.
func (p *Processor) merge(union *rdf.Graph, res *model.Resource, log logger.Logger) {
	if len(res.JSONLD) == 0 {
		log.Debugn("Resource has no JSON-LD", logger.NewStringField("resourceId", res.ID))
		return
	}
	g, err := rdf.ParseJSONLD(res.JSONLD)
	if err != nil {
		log.Warnn("Skipping resource that could not be parsed",
			logger.NewStringField("resourceId", res.ID),
			logger.NewStringField("resourceType", res.ResourceType.String()),
			obskit.Error(err),
		)
		return
	}
	union.Merge(g)
}

// expandAccessServices merges the data services referenced by datasets. Every uri is
// looked up once per build.
func (p *Processor) expandAccessServices(ctx context.Context, union *rdf.Graph, uris []string, expanded map[string]struct{}, log logger.Logger) {
	uris = lo.Filter(lo.Uniq(uris), func(uri string, _ int) bool {
		_, seen := expanded[uri]
		return !seen
	})
	if len(uris) == 0 {
		return
	}
	for _, uri := range uris {
		expanded[uri] = struct{}{}
	}

	services, err := p.resources.FindByURIs(ctx, uris, model.ResourceTypeDataService)
	if err != nil {
		log.Warnn("Looking up distribution access services", obskit.Error(err))
		return
	}
	for i := range services {
		p.merge(union, &services[i], log)
	}
	p.metrics.dataServicesExpanded.Count(len(services))
}

// accessServiceURIs reads distribution[].accessService[].uri from a dataset document.
// Both levels may be a single object or a list, and uri may be a string or a list of strings.
func accessServiceURIs(doc []byte) []string {
	if len(doc) == 0 {
		return nil
	}
	var uris []string
	each(gjson.GetBytes(doc, "distribution"), func(distribution gjson.Result) {
		each(distribution.Get("accessService"), func(service gjson.Result) {
			each(service.Get("uri"), func(uri gjson.Result) {
				if uri.Type == gjson.String && uri.Str != "" {
					uris = append(uris, uri.Str)
				}
			})
		})
	})
	return uris
}

func each(r gjson.Result, fn func(gjson.Result)) {
	if r.IsArray() {
		r.ForEach(func(_, v gjson.Result) bool {
			fn(v)
			return true
		})
		return
	}
	if r.Exists() {
		fn(r)
	}
}
