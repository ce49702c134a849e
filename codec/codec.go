// Package codec provides the wire encodings used on the swarm bus and
// the opaque Payload carried by tasks, results and proposals.
//
// Every node in a swarm must use the same codec. JSON is the default
// because it is readable on the wire; CBOR is compact and deterministic.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes and decodes bus messages.
type Codec interface {
	// Name identifies the codec in configuration ("json", "cbor").
	Name() string

	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the encoding/json codec.
var JSON Codec = jsonCodec{}

// CBOR is a Core Deterministic CBOR codec (RFC 8949 §4.2). Struct fields
// use their json tags, so the same types travel over either codec.
var CBOR Codec

func init() {
	enc := cbor.CoreDetEncOptions()
	enc.Time = cbor.TimeRFC3339Nano
	encMode, err := enc.EncMode()
	if err != nil {
		panic("codec: cbor encoder: " + err.Error())
	}

	decMode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder: " + err.Error())
	}

	CBOR = cborCodec{enc: encMode, dec: decMode}
}

// ByName returns the codec registered under name. An empty name selects
// JSON.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Name() string                         { return "cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
