package rdf

import (
	"fmt"
	"strconv"
	"strings"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\r", "&#13;",
)

// xmlEscape escapes s for attribute values and text, dropping characters XML 1.0 cannot carry.
func xmlEscape(s string) string {
	return xmlEscaper.Replace(strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, s))
}

type rdfXMLWriter struct {
	sb     strings.Builder
	pretty bool

	namespaces Prefixes
	byNS       map[string]string

	blocks  map[Term]*subjectBlock
	inline  map[Term]bool
	emitted map[Term]bool
}

// writeRDFXML serializes g as RDF/XML. Every predicate must split into a namespace
// and a valid XML local name; anything else is a conversion error.
func writeRDFXML(g *Graph, prefixes Prefixes, style Style) (string, error) {
	w := &rdfXMLWriter{
		pretty:     style == StylePretty,
		namespaces: Prefixes{"rdf": rdfNS},
		byNS:       map[string]string{rdfNS: "rdf"},
		blocks:     make(map[Term]*subjectBlock),
		emitted:    make(map[Term]bool),
	}
	for _, name := range prefixes.sortedNames() {
		ns := prefixes[name]
		if _, ok := w.byNS[ns]; ok || name == "rdf" {
			continue
		}
		w.namespaces[name] = ns
		w.byNS[ns] = name
	}
	if err := w.declareNamespaces(g); err != nil {
		return "", err
	}

	blocks := g.subjects()
	for _, b := range blocks {
		w.blocks[b.subject] = b
	}
	if w.pretty {
		w.inline = g.inlineableBlanks()
	}

	w.sb.WriteString(xmlDeclaration)
	w.sb.WriteString("<rdf:RDF")
	for _, name := range w.namespaces.sortedNames() {
		fmt.Fprintf(&w.sb, "\n    xmlns:%s=\"%s\"", name, xmlEscape(w.namespaces[name]))
	}
	w.sb.WriteString(">\n")

	for _, b := range blocks {
		if w.inline[b.subject] {
			continue
		}
		w.writeNode(b, 1, false)
	}
	for _, b := range blocks {
		if !w.emitted[b.subject] {
			w.writeNode(b, 1, false)
		}
	}

	w.sb.WriteString("</rdf:RDF>\n")
	return w.sb.String(), nil
}

// declareNamespaces makes sure every predicate, and every type used as a node element, has a prefix.
func (w *rdfXMLWriter) declareNamespaces(g *Graph) error {
	next := 0
	declare := func(iri string) error {
		ns, _, ok := splitQName(iri)
		if !ok {
			return fmt.Errorf("%w: predicate %q cannot be written as RDF/XML", ErrConversion, iri)
		}
		if _, ok := w.byNS[ns]; ok {
			return nil
		}
		name := "ns" + strconv.Itoa(next)
		for w.namespaces[name] != "" {
			next++
			name = "ns" + strconv.Itoa(next)
		}
		next++
		w.namespaces[name] = ns
		w.byNS[ns] = name
		return nil
	}
	for _, t := range g.Triples() {
		if err := declare(t.Predicate.Value); err != nil {
			return err
		}
		if w.pretty && t.Predicate.Value == rdfType && t.Object.IsIRI() {
			if _, _, ok := splitQName(t.Object.Value); ok {
				_ = declare(t.Object.Value)
			}
		}
	}
	return nil
}

func (w *rdfXMLWriter) qname(iri string) string {
	ns, local, _ := splitQName(iri)
	return w.byNS[ns] + ":" + local
}

// writeNode writes b as a node element. Blank nodes carry rdf:nodeID unless nested
// in their only referencing property.
func (w *rdfXMLWriter) writeNode(b *subjectBlock, depth int, nested bool) {
	w.emitted[b.subject] = true
	indent := w.indent(depth)

	element := "rdf:Description"
	var skipType *Term
	if w.pretty {
		for _, o := range b.objects[IRI(rdfType)] {
			if _, _, ok := splitQName(o.Value); ok && o.IsIRI() {
				element = w.qname(o.Value)
				skipType = &o
				break
			}
		}
	}

	w.sb.WriteString(indent)
	w.sb.WriteString("<" + element)
	switch {
	case b.subject.IsIRI():
		fmt.Fprintf(&w.sb, ` rdf:about="%s"`, xmlEscape(b.subject.Value))
	case !nested:
		fmt.Fprintf(&w.sb, ` rdf:nodeID="%s"`, xmlEscape(b.subject.Value))
	}
	w.sb.WriteString(">\n")

	for _, p := range b.predicates {
		for _, o := range b.objects[p] {
			if skipType != nil && p.Value == rdfType && o == *skipType {
				continue
			}
			w.writeProperty(p, o, depth+1)
		}
	}

	w.sb.WriteString(indent)
	w.sb.WriteString("</" + element + ">\n")
}

func (w *rdfXMLWriter) writeProperty(p, o Term, depth int) {
	indent := w.indent(depth)
	name := w.qname(p.Value)

	w.sb.WriteString(indent)
	switch o.Kind {
	case KindIRI:
		fmt.Fprintf(&w.sb, "<%s rdf:resource=\"%s\"/>\n", name, xmlEscape(o.Value))
	case KindBlank:
		block, ok := w.blocks[o]
		if !w.inline[o] || !ok || w.emitted[o] {
			fmt.Fprintf(&w.sb, "<%s rdf:nodeID=\"%s\"/>\n", name, xmlEscape(o.Value))
			return
		}
		fmt.Fprintf(&w.sb, "<%s>\n", name)
		w.writeNode(block, depth+1, true)
		w.sb.WriteString(indent)
		fmt.Fprintf(&w.sb, "</%s>\n", name)
	default:
		w.sb.WriteString("<" + name)
		switch {
		case o.Lang != "":
			fmt.Fprintf(&w.sb, ` xml:lang="%s"`, xmlEscape(o.Lang))
		case o.Datatype != "":
			fmt.Fprintf(&w.sb, ` rdf:datatype="%s"`, xmlEscape(o.Datatype))
		}
		fmt.Fprintf(&w.sb, ">%s</%s>\n", xmlEscape(o.Value), name)
	}
}

func (w *rdfXMLWriter) indent(depth int) string {
	return strings.Repeat("  ", depth)
}

// splitQName splits iri into a namespace and an XML local name, cutting after the last '#', '/' or ':'.
func splitQName(iri string) (string, string, bool) {
	i := strings.LastIndexAny(iri, "#/:")
	if i < 0 || i == len(iri)-1 {
		return "", "", false
	}
	ns, local := iri[:i+1], iri[i+1:]
	if !validNCName(local) {
		return "", "", false
	}
	return ns, local, true
}

func validNCName(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return s != ""
}
