package rdf

import (
	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

// Convert serializes a JSON-LD document in the requested format and style. With
// expandURIs every IRI is written in full; otherwise the prefix table of resourceType
// is used, or the common table when resourceType is empty.
func Convert(doc any, format Format, style Style, expandURIs bool, resourceType model.ResourceType) (string, error) {
	input, err := normalizeDocument(doc)
	if err != nil {
		return "", err
	}

	if format == FormatJSONLD && expandURIs && !hasContext(input) {
		b, err := marshalDocument(input, style != StyleStandard)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	g, err := parseDocument(input)
	if err != nil {
		return "", err
	}

	var prefixes Prefixes
	if !expandURIs {
		prefixes = PrefixesFor(resourceType)
	}

	switch format {
	case FormatTurtle:
		return writeTurtle(g, prefixes, style), nil
	case FormatRDFXML:
		return writeRDFXML(g, prefixes, style)
	case FormatNTriples, FormatNQuads:
		return writeNTriples(g), nil
	default:
		doc, err := graphToDocument(g, prefixes)
		if err != nil {
			return "", err
		}
		b, err := marshalDocument(doc, style != StyleStandard)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// TurtleToJSONLD parses Turtle and returns it as a compacted JSON-LD document. Without
// expandURIs the common prefixes are used as context. Any failure yields an empty map.
func TurtleToJSONLD(turtle string, expandURIs bool) map[string]any {
	g, err := ParseTurtle(turtle)
	if err != nil {
		return map[string]any{}
	}

	var prefixes Prefixes
	if !expandURIs {
		prefixes = commonPrefixes
	}
	doc, err := graphToDocument(g, prefixes)
	if err != nil {
		return map[string]any{}
	}
	return doc
}
