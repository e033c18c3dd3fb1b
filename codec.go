package outbox

import (
	jsoniter "github.com/json-iterator/go"
)

// Codec serializes event payloads for storage and deserializes them on
// the consumer side.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec returns the default Codec, a JSON implementation compatible
// with the standard library encoding.
func JSONCodec() Codec {
	return jsonCodec{}
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
