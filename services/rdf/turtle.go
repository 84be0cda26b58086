package rdf

import (
	"fmt"
	"strings"

	"github.com/knakk/rdf"
)

// ParseTurtle decodes a Turtle document into a graph.
func ParseTurtle(turtle string) (*Graph, error) {
	triples, err := rdf.NewTripleDecoder(strings.NewReader(turtle), rdf.Turtle).DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parsing turtle: %v", ErrConversion, err)
	}

	g := NewGraph()
	for _, t := range triples {
		s, err := fromKnakk(t.Subj)
		if err != nil {
			return nil, err
		}
		p, err := fromKnakk(t.Pred)
		if err != nil {
			return nil, err
		}
		o, err := fromKnakk(t.Obj)
		if err != nil {
			return nil, err
		}
		g.Add(Triple{Subject: s, Predicate: p, Object: o})
	}
	return g, nil
}

func fromKnakk(term rdf.Term) (Term, error) {
	switch v := term.(type) {
	case rdf.IRI:
		return IRI(v.String()), nil
	case rdf.Blank:
		return Blank(strings.TrimPrefix(v.String(), "_:")), nil
	case rdf.Literal:
		return Literal(v.String(), v.DataType.String(), v.Lang()), nil
	default:
		return Term{}, fmt.Errorf("%w: unsupported term %T", ErrConversion, term)
	}
}

type turtleWriter struct {
	sb       strings.Builder
	prefixes Prefixes
	pretty   bool

	blocks  map[Term]*subjectBlock
	inline  map[Term]bool
	emitted map[Term]bool
}

func writeTurtle(g *Graph, prefixes Prefixes, style Style) string {
	w := &turtleWriter{
		prefixes: prefixes,
		pretty:   style == StylePretty,
		blocks:   make(map[Term]*subjectBlock),
		emitted:  make(map[Term]bool),
	}
	w.writePrefixes()
	if w.pretty {
		w.writePretty(g)
	} else {
		w.writeStandard(g)
	}
	return w.sb.String()
}

func (w *turtleWriter) writePrefixes() {
	if len(w.prefixes) == 0 {
		return
	}
	for _, name := range w.prefixes.sortedNames() {
		fmt.Fprintf(&w.sb, "@prefix %s: <%s> .\n", name, w.prefixes[name])
	}
	w.sb.WriteString("\n")
}

func (w *turtleWriter) writeStandard(g *Graph) {
	for _, t := range g.Triples() {
		w.sb.WriteString(w.term(t.Subject))
		w.sb.WriteByte(' ')
		w.sb.WriteString(w.predicate(t.Predicate))
		w.sb.WriteByte(' ')
		w.sb.WriteString(w.term(t.Object))
		w.sb.WriteString(" .\n")
	}
}

func (w *turtleWriter) writePretty(g *Graph) {
	blocks := g.subjects()
	w.inline = g.inlineableBlanks()
	for _, b := range blocks {
		w.blocks[b.subject] = b
	}

	first := true
	writeTop := func(b *subjectBlock) {
		if !first {
			w.sb.WriteString("\n")
		}
		first = false
		w.emitted[b.subject] = true
		w.sb.WriteString(w.term(b.subject))
		w.sb.WriteString("\n")
		w.writePredicates(b, 1)
		w.sb.WriteString(" .\n")
	}

	for _, b := range blocks {
		if b.subject.IsBlank() && w.inline[b.subject] {
			continue
		}
		writeTop(b)
	}
	// blank nodes only reachable through a cycle of single references
	for _, b := range blocks {
		if !w.emitted[b.subject] {
			writeTop(b)
		}
	}
}

func (w *turtleWriter) writePredicates(b *subjectBlock, depth int) {
	indent := strings.Repeat("    ", depth)
	for i, p := range b.predicates {
		if i > 0 {
			w.sb.WriteString(" ;\n")
		}
		w.sb.WriteString(indent)
		w.sb.WriteString(w.predicate(p))
		w.sb.WriteString("  ")
		for j, o := range b.objects[p] {
			if j > 0 {
				w.sb.WriteString(" , ")
			}
			w.writeObject(o, depth)
		}
	}
}

func (w *turtleWriter) writeObject(o Term, depth int) {
	nested, ok := w.blocks[o]
	if !o.IsBlank() || !w.inline[o] || !ok || w.emitted[o] {
		w.sb.WriteString(w.term(o))
		return
	}
	w.emitted[o] = true
	w.sb.WriteString("[\n")
	w.writePredicates(nested, depth+1)
	w.sb.WriteString("\n")
	w.sb.WriteString(strings.Repeat("    ", depth))
	w.sb.WriteString("]")
}

func (w *turtleWriter) predicate(p Term) string {
	if p.Value == rdfType {
		return "a"
	}
	return w.term(p)
}

func (w *turtleWriter) term(t Term) string {
	switch t.Kind {
	case KindIRI:
		return w.iri(t.Value)
	case KindBlank:
		return "_:" + t.Value
	}
	s := `"` + escapeString(t.Value) + `"`
	switch {
	case t.Lang != "":
		return s + "@" + t.Lang
	case t.Datatype != "":
		return s + "^^" + w.iri(t.Datatype)
	}
	return s
}

func (w *turtleWriter) iri(iri string) string {
	if qname, ok := w.prefixes.shorten(iri); ok {
		return qname
	}
	return "<" + escapeIRI(iri) + ">"
}
