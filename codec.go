package workflow

import "encoding/json"

// Codec controls serialization of persisted run state and step payloads.
//
// Default is JSONCodec (stored as jsonb by the Postgres repository).
//
// Implementations should be deterministic: same value => same bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
