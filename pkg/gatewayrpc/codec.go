package gatewayrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package so both client and
// server dial/serve options can select it by name instead of linking a
// protobuf-generated codec.
const codecName = "json"

// jsonCodec marshals the plain Go structs in this package as JSON, letting
// the RPC surface be hand-written instead of protoc-generated: every message
// here is a plain struct, no .proto sources or generated bindings involved.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
