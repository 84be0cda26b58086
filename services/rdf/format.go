package rdf

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConversion is returned when a document cannot be parsed or serialized.
var ErrConversion = errors.New("rdf conversion failed")

type Format string

const (
	FormatJSONLD   Format = "JSON_LD"
	FormatTurtle   Format = "TURTLE"
	FormatRDFXML   Format = "RDF_XML"
	FormatNTriples Format = "N_TRIPLES"
	FormatNQuads   Format = "N_QUADS"
)

type Style string

const (
	StylePretty   Style = "PRETTY"
	StyleStandard Style = "STANDARD"
)

var contentTypes = map[Format]string{
	FormatJSONLD:   "application/ld+json",
	FormatTurtle:   "text/turtle",
	FormatRDFXML:   "application/rdf+xml",
	FormatNTriples: "application/n-triples",
	FormatNQuads:   "application/n-quads",
}

var formatsByContentType = func() map[string]Format {
	m := make(map[string]Format, len(contentTypes))
	for f, ct := range contentTypes {
		m[ct] = f
	}
	return m
}()

func (f Format) String() string { return string(f) }

func (s Style) String() string { return string(s) }

// ContentType returns the media type of the format, defaulting to JSON-LD.
func ContentType(f Format) string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return contentTypes[FormatJSONLD]
}

// BestFormat picks the first entry of an Accept header naming a supported RDF media type.
// Quality values are not weighed; anything unsupported falls back to JSON-LD.
func BestFormat(accept string) Format {
	for _, token := range strings.Split(accept, ",") {
		if f, ok := formatsByContentType[strings.ToLower(strings.TrimSpace(token))]; ok {
			return f
		}
	}
	return FormatJSONLD
}

// ParseFormat accepts either a format name (JSON_LD, TURTLE, ...) or its media type.
func ParseFormat(s string) (Format, error) {
	s = strings.TrimSpace(s)
	if f, ok := formatsByContentType[strings.ToLower(s)]; ok {
		return f, nil
	}
	f := Format(strings.ReplaceAll(strings.ToUpper(s), "-", "_"))
	if _, ok := contentTypes[f]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unsupported rdf format: %q", s)
}

func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToUpper(strings.TrimSpace(s))); st {
	case StylePretty, StyleStandard:
		return st, nil
	default:
		return "", fmt.Errorf("unsupported rdf style: %q", s)
	}
}
