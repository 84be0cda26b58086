package ingestion

import (
	"embed"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/model"
)

//go:embed schemas/*.avsc
var schemas embed.FS

// confluent wire format: magic byte 0, big endian schema id, avro binary body
const (
	magicByte    = 0
	headerLength = 5
)

const rdfParseSchema = "rdf_parse"

// codecs holds one codec per topic kind: the lower case resource types plus rdf_parse.
type codecs map[string]*goavro.Codec

func loadCodecs() (codecs, error) {
	names := make([]string, 0, len(model.ResourceTypes)+1)
	for _, rt := range model.ResourceTypes {
		names = append(names, rt.Lower())
	}
	names = append(names, rdfParseSchema)

	c := make(codecs, len(names))
	for _, name := range names {
		schema, err := schemas.ReadFile("schemas/" + name + ".avsc")
		if err != nil {
			return nil, fmt.Errorf("reading avro schema %q: %w", name, err)
		}
		codec, err := goavro.NewCodec(string(schema))
		if err != nil {
			return nil, fmt.Errorf("parsing avro schema %q: %w", name, err)
		}
		c[name] = codec
	}
	return c, nil
}

// decode strips the wire format header and returns the record as a native map
func (c codecs) decode(name string, payload []byte) (map[string]any, error) {
	codec, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("no avro schema for %q", name)
	}
	if len(payload) < headerLength {
		return nil, fmt.Errorf("payload too short: %d bytes", len(payload))
	}
	if payload[0] != magicByte {
		return nil, fmt.Errorf("unknown magic byte: %d", payload[0])
	}

	native, _, err := codec.NativeFromBinary(payload[headerLength:])
	if err != nil {
		return nil, fmt.Errorf("decoding avro %s record: %w", name, err)
	}
	record, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("avro payload is not a record: %T", native)
	}
	return record, nil
}

// encode produces a wire format payload for the given record
func (c codecs) encode(name string, schemaID uint32, record map[string]any) ([]byte, error) {
	codec, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("no avro schema for %q", name)
	}
	header := make([]byte, headerLength)
	header[0] = magicByte
	binary.BigEndian.PutUint32(header[1:], schemaID)
	return codec.BinaryFromNative(header, record)
}

func requiredString(record map[string]any, field string) (string, error) {
	v, ok := record[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("missing or empty %s", field)
	}
	return v, nil
}

func optionalString(record map[string]any, field string) string {
	v, _ := record[field].(string)
	return v
}

// timestampMillis reads a timestamp-millis field, decoded either as time.Time or as a plain long
func timestampMillis(record map[string]any, field string) (int64, error) {
	switch v := record[field].(type) {
	case time.Time:
		return v.UnixMilli(), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("missing or invalid %s", field)
	}
}

// Encoder produces wire format payloads for the ingestion topics. It is meant for tooling
// and tests that feed the topics.
type Encoder struct {
	codecs   codecs
	schemaID uint32
}

func NewEncoder(schemaID uint32) (*Encoder, error) {
	c, err := loadCodecs()
	if err != nil {
		return nil, err
	}
	return &Encoder{codecs: c, schemaID: schemaID}, nil
}

func (e *Encoder) ResourceEvent(ev ResourceEvent) ([]byte, error) {
	return e.codecs.encode(ev.ResourceType.Lower(), e.schemaID, map[string]any{
		"type":      ev.Type,
		"fdkId":     ev.FdkID,
		"graph":     ev.Graph,
		"timestamp": time.UnixMilli(ev.Timestamp).UTC(),
	})
}

func (e *Encoder) RdfParseEvent(ev RdfParseEvent) ([]byte, error) {
	symbol := strings.ReplaceAll(ev.ResourceType.String(), "_", "")
	return e.codecs.encode(rdfParseSchema, e.schemaID, map[string]any{
		"resourceType": symbol,
		"fdkId":        ev.FdkID,
		"data":         ev.Data,
		"timestamp":    time.UnixMilli(ev.Timestamp).UTC(),
	})
}
