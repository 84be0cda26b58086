package rdf

import (
	"fmt"
	"strings"
)

// writeNTriples writes one triple per line in canonical N-Triples form. Only the
// default graph is ever produced, so the same output is valid N-Quads.
func writeNTriples(g *Graph) string {
	var sb strings.Builder
	for _, t := range g.Triples() {
		sb.WriteString(ntTerm(t.Subject))
		sb.WriteByte(' ')
		sb.WriteString(ntTerm(t.Predicate))
		sb.WriteByte(' ')
		sb.WriteString(ntTerm(t.Object))
		sb.WriteString(" .\n")
	}
	return sb.String()
}

func ntTerm(t Term) string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	default:
		return ntLiteral(t)
	}
}

func ntLiteral(t Term) string {
	s := `"` + escapeString(t.Value) + `"`
	switch {
	case t.Lang != "":
		return s + "@" + t.Lang
	case t.Datatype != "":
		return s + "^^<" + escapeIRI(t.Datatype) + ">"
	}
	return s
}

func escapeString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\u%04X`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func escapeIRI(s string) string {
	if !strings.ContainsAny(s, "<>\"{}|^`\\ \n\r\t") {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r <= 0x20 || strings.ContainsRune("<>\"{}|^`\\", r) {
			fmt.Fprintf(&sb, `\u%04X`, r)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
