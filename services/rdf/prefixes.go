package rdf

import (
	"sort"
	"strings"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

// Prefixes maps a namespace prefix to its namespace IRI.
type Prefixes map[string]string

var namespaces = map[string]string{
	"adms":         "http://www.w3.org/ns/adms#",
	"cpsv":         "http://purl.org/vocab/cpsv#",
	"cpsvno":       "https://data.norge.no/vocabulary/cpsvno#",
	"cv":           "http://data.europa.eu/m8g/",
	"dc":           "http://purl.org/dc/elements/1.1/",
	"dcat":         "http://www.w3.org/ns/dcat#",
	"dcatap":       "http://data.europa.eu/r5r/",
	"dcatno":       "https://data.norge.no/vocabulary/dcatno#",
	"dct":          "http://purl.org/dc/terms/",
	"dqv":          "http://www.w3.org/ns/dqv#",
	"eli":          "http://data.europa.eu/eli/ontology#",
	"epo":          "http://data.europa.eu/a4g/ontology#",
	"euvoc":        "http://publications.europa.eu/ontology/euvoc#",
	"foaf":         "http://xmlns.com/foaf/0.1/",
	"greg":         "http://www.w3.org/ns/time/gregorian#",
	"locn":         "http://www.w3.org/ns/locn#",
	"modelldcatno": "https://data.norge.no/vocabulary/modelldcatno#",
	"odrl":         "http://www.w3.org/ns/odrl/2/",
	"odrs":         "http://schema.theodi.org/odrs#",
	"org":          "http://www.w3.org/ns/org#",
	"owl":          "http://www.w3.org/2002/07/owl#",
	"prof":         "https://www.w3.org/ns/dx/prof/",
	"prov":         "http://www.w3.org/ns/prov#",
	"rdf":          "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs":         "http://www.w3.org/2000/01/rdf-schema#",
	"schema":       "https://schema.org/",
	"skos":         "http://www.w3.org/2004/02/skos/core#",
	"skosno":       "https://data.norge.no/vocabulary/skosno#",
	"spdx":         "http://spdx.org/rdf/terms#",
	"time":         "http://www.w3.org/2006/time#",
	"vcard":        "http://www.w3.org/2006/vcard/ns#",
	"xkos":         "http://rdf-vocabulary.ddialliance.org/xkos#",
	"xsd":          "http://www.w3.org/2001/XMLSchema#",
}

func prefixesOf(names ...string) Prefixes {
	p := make(Prefixes, len(names))
	for _, name := range names {
		p[name] = namespaces[name]
	}
	return p
}

var (
	datasetPrefixes = prefixesOf(
		"rdf", "rdfs", "owl", "xsd", "dcat", "dcatap", "dcatno", "dct", "adms", "cv", "cpsv",
		"dqv", "eli", "foaf", "locn", "odrl", "odrs", "prov", "skos", "spdx", "time", "vcard",
	)
	conceptPrefixes = prefixesOf(
		"rdf", "rdfs", "owl", "xsd", "adms", "dcat", "dct", "euvoc", "org", "skos", "skosno", "vcard", "xkos",
	)
	informationModelPrefixes = prefixesOf(
		"rdf", "rdfs", "owl", "xsd", "adms", "dcat", "dct", "foaf", "locn", "modelldcatno", "prof", "skos", "vcard", "xkos",
	)
	servicePrefixes = prefixesOf(
		"rdf", "rdfs", "xsd", "adms", "cpsv", "cpsvno", "cv", "dcat", "dcatno", "dct", "eli",
		"epo", "foaf", "greg", "locn", "org", "schema", "skos", "time", "vcard", "xkos",
	)
	// the common table uses the http schema.org namespace
	commonPrefixes = prefixesOf(
		"rdf", "rdfs", "owl", "xsd", "dcat", "dct", "dc", "foaf", "skos", "vcard", "prov", "adms", "locn",
	).with(Prefixes{"schema": "http://schema.org/"})
)

func (p Prefixes) with(extra Prefixes) Prefixes {
	out := make(Prefixes, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// PrefixesFor returns the prefix table for a resource type. An empty type yields the common table.
func PrefixesFor(t model.ResourceType) Prefixes {
	switch t {
	case model.ResourceTypeDataset, model.ResourceTypeDataService:
		return datasetPrefixes
	case model.ResourceTypeConcept:
		return conceptPrefixes
	case model.ResourceTypeInformationModel:
		return informationModelPrefixes
	case model.ResourceTypeService, model.ResourceTypeEvent:
		return servicePrefixes
	default:
		return commonPrefixes
	}
}

func (p Prefixes) sortedNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// shorten returns prefix:local for iri when a namespace matches and the local part is
// safe to write unescaped; the longest namespace wins.
func (p Prefixes) shorten(iri string) (string, bool) {
	var best, bestNS string
	for name, ns := range p {
		if len(ns) > len(bestNS) && strings.HasPrefix(iri, ns) && validLocalName(iri[len(ns):]) {
			best, bestNS = name, ns
		}
	}
	if bestNS == "" {
		return "", false
	}
	return best + ":" + iri[len(bestNS):], true
}

func validLocalName(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasSuffix(s, ".") || strings.HasPrefix(s, "-") || strings.HasPrefix(s, ".") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
