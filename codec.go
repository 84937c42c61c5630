package pstate

import (
	"encoding/json"
	"fmt"
)

// FieldCodec overrides serialisation for a single field inside the default
// JSON codec. The encoded form is stored as a plain string within the
// persisted record.
type FieldCodec struct {
	Encode func(any) (string, error)
	Decode func(string) (any, error)
}

// JSONCodec is the default Codec: a JSON object keyed by field name. Fields
// with a registered FieldCodec are serialised through it and embedded as
// strings.
type JSONCodec struct {
	fields map[string]FieldCodec
}

// JSONCodecOption configures a JSONCodec instance.
type JSONCodecOption func(*JSONCodec)

// JSONWithFieldCodec registers a per-field codec override.
func JSONWithFieldCodec(field string, codec FieldCodec) JSONCodecOption {
	return func(c *JSONCodec) {
		if c.fields == nil {
			c.fields = map[string]FieldCodec{}
		}
		c.fields[field] = codec
	}
}

// NewJSONCodec constructs the default codec.
func NewJSONCodec(opts ...JSONCodecOption) *JSONCodec {
	c := &JSONCodec{}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Encode serialises state into the single persisted string.
func (c *JSONCodec) Encode(state State) (string, error) {
	payload := Clone(state)
	for field, codec := range c.fields {
		value, ok := payload[field]
		if !ok || codec.Encode == nil {
			continue
		}
		encoded, err := codec.Encode(value)
		if err != nil {
			return "", fmt.Errorf("pstate: encode field %q: %w", field, err)
		}
		payload[field] = encoded
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("pstate: encode state: %w", err)
	}
	return string(raw), nil
}

// Decode parses a persisted string back into a partial state.
func (c *JSONCodec) Decode(raw string) (State, error) {
	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("pstate: decode state: %w", err)
	}
	if state == nil {
		state = State{}
	}
	for field, codec := range c.fields {
		value, ok := state[field]
		if !ok || codec.Decode == nil {
			continue
		}
		encoded, ok := value.(string)
		if !ok {
			continue
		}
		decoded, err := codec.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("pstate: decode field %q: %w", field, err)
		}
		state[field] = decoded
	}
	return state, nil
}
