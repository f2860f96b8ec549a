package identity

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// The identity service speaks gRPC with JSON bodies
// (content-subtype "json"), so no generated stubs are needed.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
