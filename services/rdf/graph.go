package rdf

import (
	"sort"
	"strconv"
)

const (
	rdfNS   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	xsdNS   = "http://www.w3.org/2001/XMLSchema#"
	rdfType = rdfNS + "type"

	xsdString     = xsdNS + "string"
	rdfLangString = rdfNS + "langString"
)

type TermKind uint8

const (
	KindIRI TermKind = iota
	KindBlank
	KindLiteral
)

// Term is an RDF term. Blank node values carry no "_:" prefix.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

func IRI(value string) Term { return Term{Kind: KindIRI, Value: value} }

func Blank(label string) Term { return Term{Kind: KindBlank, Value: label} }

// Literal builds a literal term. Plain strings and language tagged strings carry no datatype.
func Literal(value, datatype, lang string) Term {
	if lang != "" || datatype == xsdString || datatype == rdfLangString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype, Lang: lang}
}

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// Graph is an in-memory set of triples.
type Graph struct {
	triples []Triple
	index   map[Triple]struct{}
	blanks  int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[Triple]struct{})}
}

// Add inserts t unless it is already present.
func (g *Graph) Add(t Triple) bool {
	if _, ok := g.index[t]; ok {
		return false
	}
	g.index[t] = struct{}{}
	g.triples = append(g.triples, t)
	return true
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.triples)
}

func (g *Graph) Empty() bool { return g.Len() == 0 }

// Merge adds every triple of other. Blank nodes of other are relabelled so that
// they never clash with blank nodes already in g.
func (g *Graph) Merge(other *Graph) {
	if other.Empty() {
		return
	}
	labels := make(map[string]string)
	relabel := func(t Term) Term {
		if !t.IsBlank() {
			return t
		}
		l, ok := labels[t.Value]
		if !ok {
			l = "b" + strconv.Itoa(g.blanks)
			g.blanks++
			labels[t.Value] = l
		}
		return Blank(l)
	}
	for _, t := range other.triples {
		g.Add(Triple{
			Subject:   relabel(t.Subject),
			Predicate: t.Predicate,
			Object:    relabel(t.Object),
		})
	}
}

// Triples returns the triples in a deterministic order.
func (g *Graph) Triples() []Triple {
	out := make([]Triple, len(g.triples))
	copy(out, g.triples)
	sort.Slice(out, func(i, j int) bool {
		return compareTriples(out[i], out[j]) < 0
	})
	return out
}

func compareTriples(a, b Triple) int {
	if c := compareTerms(a.Subject, b.Subject); c != 0 {
		return c
	}
	if c := compareTerms(a.Predicate, b.Predicate); c != 0 {
		return c
	}
	return compareTerms(a.Object, b.Object)
}

func compareTerms(a, b Term) int {
	switch {
	case a.Kind != b.Kind:
		return int(a.Kind) - int(b.Kind)
	case a.Value != b.Value:
		return compareStrings(a.Value, b.Value)
	case a.Datatype != b.Datatype:
		return compareStrings(a.Datatype, b.Datatype)
	default:
		return compareStrings(a.Lang, b.Lang)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// subjectBlock groups the predicates and objects of one subject, predicates in output order.
type subjectBlock struct {
	subject    Term
	predicates []Term
	objects    map[Term][]Term
}

// subjects groups the graph by subject. rdf:type sorts before every other predicate.
func (g *Graph) subjects() []*subjectBlock {
	var (
		blocks []*subjectBlock
		bySubj = make(map[Term]*subjectBlock)
	)
	for _, t := range g.Triples() {
		b, ok := bySubj[t.Subject]
		if !ok {
			b = &subjectBlock{subject: t.Subject, objects: make(map[Term][]Term)}
			bySubj[t.Subject] = b
			blocks = append(blocks, b)
		}
		if _, ok := b.objects[t.Predicate]; !ok {
			b.predicates = append(b.predicates, t.Predicate)
		}
		b.objects[t.Predicate] = append(b.objects[t.Predicate], t.Object)
	}
	for _, b := range blocks {
		sort.SliceStable(b.predicates, func(i, j int) bool {
			return b.predicates[i].Value == rdfType && b.predicates[j].Value != rdfType
		})
	}
	return blocks
}

// inlineableBlanks returns the blank nodes referenced exactly once as an object,
// which pretty writers nest inside their referencing subject.
func (g *Graph) inlineableBlanks() map[Term]bool {
	refs := make(map[Term]int)
	for _, t := range g.triples {
		if t.Object.IsBlank() {
			refs[t.Object]++
		}
	}
	out := make(map[Term]bool)
	for b, n := range refs {
		if n == 1 {
			out[b] = true
		}
	}
	return out
}
