// Package rpc implements the binary envelope, error taxonomy, and the
// authenticated action client/server.
package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
)

// ContentType is the wire content type for request and response bodies.
const ContentType = "application/vnd.msgpack"

// Encode serializes v into the binary envelope. Byte slices are preserved
// distinctly from strings by msgpack's native bin/str distinction.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// DecodeMap decodes an envelope body into a generic map, used by the server
// before schema validation and by the client when the action output shape
// is not known ahead of time.
func DecodeMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
