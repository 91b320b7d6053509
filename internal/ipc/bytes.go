package ipc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bytes is a raw byte sequence that survives the JSON channel unchanged.
// It is written as base64. Reading also accepts a plain array of byte
// values and the {"type":"Buffer","data":[...]} object form.
type Bytes []byte

// MarshalJSON implements json.Marshaler
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 body: %w", err)
		}
		*b = decoded
		return nil
	case '[':
		return b.fromArray(data)
	case '{':
		var buf struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &buf); err != nil {
			return err
		}
		if len(buf.Data) == 0 {
			return fmt.Errorf("byte object has no data field")
		}
		return b.fromArray(buf.Data)
	}
	return fmt.Errorf("unsupported byte encoding")
}

func (b *Bytes) fromArray(data json.RawMessage) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range at index %d", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
