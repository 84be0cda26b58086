package rdf

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/piprate/json-gold/ld"
)

var jsonrs = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

const nquadsFormat = "application/n-quads"

// ParseJSONLD converts a JSON-LD document (raw JSON, a map or a list) into a graph.
// Named graphs are folded into the default graph.
func ParseJSONLD(doc any) (*Graph, error) {
	input, err := normalizeDocument(doc)
	if err != nil {
		return nil, err
	}
	return parseDocument(input)
}

func parseDocument(input any) (*Graph, error) {
	out, err := ld.NewJsonLdProcessor().ToRDF(input, ld.NewJsonLdOptions(""))
	if err != nil {
		return nil, fmt.Errorf("%w: expanding json-ld: %v", ErrConversion, err)
	}
	dataset, ok := out.(*ld.RDFDataset)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected json-ld dataset %T", ErrConversion, out)
	}

	g := NewGraph()
	for _, quads := range dataset.Graphs {
		for _, q := range quads {
			s, err := fromLD(q.Subject)
			if err != nil {
				return nil, err
			}
			p, err := fromLD(q.Predicate)
			if err != nil {
				return nil, err
			}
			o, err := fromLD(q.Object)
			if err != nil {
				return nil, err
			}
			g.Add(Triple{Subject: s, Predicate: p, Object: o})
		}
	}
	return g, nil
}

func fromLD(node ld.Node) (Term, error) {
	switch {
	case node == nil:
		return Term{}, fmt.Errorf("%w: missing json-ld node", ErrConversion)
	case ld.IsIRI(node):
		return IRI(node.GetValue()), nil
	case ld.IsBlankNode(node):
		return Blank(trimBlankPrefix(node.GetValue())), nil
	}
	lit, ok := node.(*ld.Literal)
	if !ok {
		return Term{}, fmt.Errorf("%w: unsupported json-ld node %T", ErrConversion, node)
	}
	return Literal(lit.Value, lit.Datatype, lit.Language), nil
}

func trimBlankPrefix(label string) string {
	if len(label) > 2 && label[:2] == "_:" {
		return label[2:]
	}
	return label
}

// MarshalJSONLD serializes the graph as compacted JSON-LD without a context.
func (g *Graph) MarshalJSONLD(pretty bool) ([]byte, error) {
	doc, err := graphToDocument(g, nil)
	if err != nil {
		return nil, err
	}
	return marshalDocument(doc, pretty)
}

// graphToDocument compacts the graph, using prefixes as the context. A single node
// compacts to the node itself, several nodes to an "@graph" list.
func graphToDocument(g *Graph, prefixes Prefixes) (map[string]any, error) {
	if g.Empty() {
		return map[string]any{}, nil
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")
	opts.Format = nquadsFormat

	expanded, err := proc.FromRDF(writeNTriples(g), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: reading triples: %v", ErrConversion, err)
	}

	context := make(map[string]any, len(prefixes))
	for name, ns := range prefixes {
		context[name] = ns
	}
	compacted, err := proc.Compact(expanded, context, ld.NewJsonLdOptions(""))
	if err != nil {
		return nil, fmt.Errorf("%w: compacting json-ld: %v", ErrConversion, err)
	}
	if ctx, ok := compacted["@context"].(map[string]any); ok && len(ctx) == 0 {
		delete(compacted, "@context")
	}
	return compacted, nil
}

func marshalDocument(doc any, pretty bool) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = jsonrs.MarshalIndent(doc, "", "  ")
	} else {
		b, err = jsonrs.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: writing json-ld: %v", ErrConversion, err)
	}
	return b, nil
}

// normalizeDocument turns raw JSON text into generic maps and lists.
func normalizeDocument(doc any) (any, error) {
	var raw []byte
	switch v := doc.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty document", ErrConversion)
	case map[string]any, []any:
		return v, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := jsonrs.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding document: %v", ErrConversion, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConversion)
	}

	var out any
	if err := jsonrs.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding json: %v", ErrConversion, err)
	}
	switch out.(type) {
	case map[string]any, []any:
		return out, nil
	default:
		return nil, fmt.Errorf("%w: json-ld document must be an object or an array", ErrConversion)
	}
}

func hasContext(doc any) bool {
	m, ok := doc.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["@context"]
	return ok
}
