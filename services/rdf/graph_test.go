package rdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	dcatNS  = "http://www.w3.org/ns/dcat#"
	dctNS   = "http://purl.org/dc/terms/"
	vcardNS = "http://www.w3.org/2006/vcard/ns#"
)

func datasetGraph() *Graph {
	g := NewGraph()
	s := IRI("https://example.org/ds1")
	g.Add(Triple{Subject: s, Predicate: IRI(dctNS + "title"), Object: Literal("Tittel", "", "nn")})
	g.Add(Triple{Subject: s, Predicate: IRI(rdfType), Object: IRI(dcatNS + "Dataset")})
	g.Add(Triple{Subject: s, Predicate: IRI(dctNS + "identifier"), Object: Literal("1", xsdNS+"integer", "")})
	g.Add(Triple{Subject: s, Predicate: IRI(dctNS + "title"), Object: Literal("Title", "", "nb")})
	return g
}

var testPrefixes = Prefixes{
	"dcat":  dcatNS,
	"dct":   dctNS,
	"xsd":   xsdNS,
	"vcard": vcardNS,
}

func TestGraph_AddDeduplicates(t *testing.T) {
	g := datasetGraph()
	require.False(t, g.Add(Triple{Subject: IRI("https://example.org/ds1"), Predicate: IRI(rdfType), Object: IRI(dcatNS + "Dataset")}))
	require.Equal(t, 4, g.Len())
}

func TestLiteral_DropsStringDatatypes(t *testing.T) {
	require.Empty(t, Literal("x", xsdString, "").Datatype)
	require.Empty(t, Literal("x", rdfLangString, "en").Datatype)
	require.Equal(t, xsdNS+"integer", Literal("1", xsdNS+"integer", "").Datatype)
}

func TestGraph_Merge(t *testing.T) {
	shared := Triple{Subject: IRI("https://example.org/a"), Predicate: IRI(dctNS + "title"), Object: Literal("A", "", "")}

	first := NewGraph()
	first.Add(shared)
	first.Add(Triple{Subject: Blank("b0"), Predicate: IRI(vcardNS + "fn"), Object: Literal("x", "", "")})

	second := NewGraph()
	second.Add(shared)
	second.Add(Triple{Subject: Blank("b0"), Predicate: IRI(vcardNS + "fn"), Object: Literal("y", "", "")})

	union := NewGraph()
	union.Merge(first)
	union.Merge(second)
	union.Merge(nil)

	require.Equal(t, 3, union.Len())

	blanks := map[string]string{}
	for _, tr := range union.Triples() {
		if tr.Subject.IsBlank() {
			blanks[tr.Object.Value] = tr.Subject.Value
		}
	}
	require.Len(t, blanks, 2)
	require.NotEqual(t, blanks["x"], blanks["y"])
}

func TestWriteNTriples(t *testing.T) {
	g := datasetGraph()
	g.Add(Triple{Subject: Blank("b0"), Predicate: IRI(vcardNS + "fn"), Object: Literal("line\n\"quoted\"", "", "")})

	require.Equal(t, ``+
		`<https://example.org/ds1> <http://purl.org/dc/terms/identifier> "1"^^<http://www.w3.org/2001/XMLSchema#integer> .`+"\n"+
		`<https://example.org/ds1> <http://purl.org/dc/terms/title> "Title"@nb .`+"\n"+
		`<https://example.org/ds1> <http://purl.org/dc/terms/title> "Tittel"@nn .`+"\n"+
		`<https://example.org/ds1> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://www.w3.org/ns/dcat#Dataset> .`+"\n"+
		`_:b0 <http://www.w3.org/2006/vcard/ns#fn> "line\n\"quoted\"" .`+"\n",
		writeNTriples(g),
	)
}

func TestWriteTurtle(t *testing.T) {
	t.Run("pretty", func(t *testing.T) {
		require.Equal(t, ``+
			"@prefix dcat: <http://www.w3.org/ns/dcat#> .\n"+
			"@prefix dct: <http://purl.org/dc/terms/> .\n"+
			"@prefix vcard: <http://www.w3.org/2006/vcard/ns#> .\n"+
			"@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .\n"+
			"\n"+
			"<https://example.org/ds1>\n"+
			"    a  dcat:Dataset ;\n"+
			"    dct:identifier  \"1\"^^xsd:integer ;\n"+
			"    dct:title  \"Title\"@nb , \"Tittel\"@nn .\n",
			writeTurtle(datasetGraph(), testPrefixes, StylePretty),
		)
	})

	t.Run("standard", func(t *testing.T) {
		require.Equal(t, ``+
			"<https://example.org/ds1> <http://purl.org/dc/terms/identifier> \"1\"^^<http://www.w3.org/2001/XMLSchema#integer> .\n"+
			"<https://example.org/ds1> <http://purl.org/dc/terms/title> \"Title\"@nb .\n"+
			"<https://example.org/ds1> <http://purl.org/dc/terms/title> \"Tittel\"@nn .\n"+
			"<https://example.org/ds1> a <http://www.w3.org/ns/dcat#Dataset> .\n",
			writeTurtle(datasetGraph(), nil, StyleStandard),
		)
	})

	t.Run("nested blank node", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: IRI("https://example.org/ds1"), Predicate: IRI(dcatNS + "contactPoint"), Object: Blank("c")})
		g.Add(Triple{Subject: Blank("c"), Predicate: IRI(vcardNS + "fn"), Object: Literal("Org", "", "")})

		require.Equal(t, ``+
			"@prefix dcat: <http://www.w3.org/ns/dcat#> .\n"+
			"@prefix vcard: <http://www.w3.org/2006/vcard/ns#> .\n"+
			"\n"+
			"<https://example.org/ds1>\n"+
			"    dcat:contactPoint  [\n"+
			"        vcard:fn  \"Org\"\n"+
			"    ] .\n",
			writeTurtle(g, Prefixes{"dcat": dcatNS, "vcard": vcardNS}, StylePretty),
		)
	})

	t.Run("blank cycle is not lost", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: Blank("x"), Predicate: IRI(dctNS + "relation"), Object: Blank("y")})
		g.Add(Triple{Subject: Blank("y"), Predicate: IRI(dctNS + "relation"), Object: Blank("x")})

		out := writeTurtle(g, nil, StylePretty)
		parsed, err := ParseTurtle(out)
		require.NoError(t, err)
		require.Equal(t, 2, parsed.Len())
	})
}

func TestWriteRDFXML(t *testing.T) {
	t.Run("pretty", func(t *testing.T) {
		out, err := writeRDFXML(datasetGraph(), testPrefixes, StylePretty)
		require.NoError(t, err)
		require.Equal(t, ``+
			`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<rdf:RDF`+"\n"+
			`    xmlns:dcat="http://www.w3.org/ns/dcat#"`+"\n"+
			`    xmlns:dct="http://purl.org/dc/terms/"`+"\n"+
			`    xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"`+"\n"+
			`    xmlns:vcard="http://www.w3.org/2006/vcard/ns#"`+"\n"+
			`    xmlns:xsd="http://www.w3.org/2001/XMLSchema#">`+"\n"+
			`  <dcat:Dataset rdf:about="https://example.org/ds1">`+"\n"+
			`    <dct:identifier rdf:datatype="http://www.w3.org/2001/XMLSchema#integer">1</dct:identifier>`+"\n"+
			`    <dct:title xml:lang="nb">Title</dct:title>`+"\n"+
			`    <dct:title xml:lang="nn">Tittel</dct:title>`+"\n"+
			`  </dcat:Dataset>`+"\n"+
			`</rdf:RDF>`+"\n",
			out,
		)
	})

	t.Run("standard", func(t *testing.T) {
		out, err := writeRDFXML(datasetGraph(), nil, StyleStandard)
		require.NoError(t, err)
		require.Contains(t, out, `<rdf:Description rdf:about="https://example.org/ds1">`)
		require.Contains(t, out, `<rdf:type rdf:resource="http://www.w3.org/ns/dcat#Dataset"/>`)
		require.Contains(t, out, `xmlns:ns0="http://purl.org/dc/terms/"`)
		require.Contains(t, out, `<ns0:title xml:lang="nb">Title</ns0:title>`)
	})

	t.Run("escaping", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: IRI("https://example.org/a?x=1&y=2"), Predicate: IRI(dctNS + "title"), Object: Literal("a < b & c", "", "")})

		out, err := writeRDFXML(g, testPrefixes, StylePretty)
		require.NoError(t, err)
		require.Contains(t, out, `rdf:about="https://example.org/a?x=1&amp;y=2"`)
		require.Contains(t, out, `>a &lt; b &amp; c</dct:title>`)
	})

	t.Run("control characters are dropped", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: IRI("https://example.org/a"), Predicate: IRI(dctNS + "title"), Object: Literal("bell\x07 tab\tend\x1f", "", "")})

		out, err := writeRDFXML(g, testPrefixes, StylePretty)
		require.NoError(t, err)
		require.Contains(t, out, ">bell tab\tend</dct:title>")
		require.NotContains(t, out, "\x07")
		require.NotContains(t, out, "\x1f")
	})

	t.Run("blank node cycle", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: Blank("a"), Predicate: IRI(dctNS + "hasPart"), Object: Blank("b")})
		g.Add(Triple{Subject: Blank("b"), Predicate: IRI(dctNS + "isPartOf"), Object: Blank("a")})

		out, err := writeRDFXML(g, testPrefixes, StylePretty)
		require.NoError(t, err)
		require.Equal(t, ``+
			`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
			`<rdf:RDF`+"\n"+
			`    xmlns:dcat="http://www.w3.org/ns/dcat#"`+"\n"+
			`    xmlns:dct="http://purl.org/dc/terms/"`+"\n"+
			`    xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"`+"\n"+
			`    xmlns:vcard="http://www.w3.org/2006/vcard/ns#"`+"\n"+
			`    xmlns:xsd="http://www.w3.org/2001/XMLSchema#">`+"\n"+
			`  <rdf:Description rdf:nodeID="a">`+"\n"+
			`    <dct:hasPart>`+"\n"+
			`      <rdf:Description>`+"\n"+
			`        <dct:isPartOf rdf:nodeID="a"/>`+"\n"+
			`      </rdf:Description>`+"\n"+
			`    </dct:hasPart>`+"\n"+
			`  </rdf:Description>`+"\n"+
			`</rdf:RDF>`+"\n",
			out,
		)
	})

	t.Run("shared blank node", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: IRI("https://example.org/a"), Predicate: IRI(dcatNS + "contactPoint"), Object: Blank("c")})
		g.Add(Triple{Subject: IRI("https://example.org/b"), Predicate: IRI(dcatNS + "contactPoint"), Object: Blank("c")})
		g.Add(Triple{Subject: Blank("c"), Predicate: IRI(vcardNS + "fn"), Object: Literal("Support", "", "")})

		out, err := writeRDFXML(g, testPrefixes, StylePretty)
		require.NoError(t, err)
		require.Equal(t, 2, strings.Count(out, `<dcat:contactPoint rdf:nodeID="c"/>`))
		require.Contains(t, out, `<rdf:Description rdf:nodeID="c">`)
	})

	t.Run("predicate without local name", func(t *testing.T) {
		g := NewGraph()
		g.Add(Triple{Subject: IRI("https://example.org/a"), Predicate: IRI("https://example.org/p/1"), Object: Literal("x", "", "")})

		_, err := writeRDFXML(g, nil, StylePretty)
		require.ErrorIs(t, err, ErrConversion)
	})
}

func TestPrefixes_Shorten(t *testing.T) {
	qname, ok := testPrefixes.shorten(dctNS + "title")
	require.True(t, ok)
	require.Equal(t, "dct:title", qname)

	_, ok = testPrefixes.shorten(dctNS + "has space")
	require.False(t, ok)

	_, ok = testPrefixes.shorten("https://example.org/x")
	require.False(t, ok)

	require.Equal(t, "http://schema.org/", PrefixesFor("")["schema"])
	require.Equal(t, "https://schema.org/", PrefixesFor("SERVICE")["schema"])
	require.Contains(t, PrefixesFor("CONCEPT"), "skosno")
	require.Contains(t, PrefixesFor("INFORMATION_MODEL"), "modelldcatno")
	require.Contains(t, PrefixesFor("DATA_SERVICE"), "dcatap")
}
