package pstate_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	pstate "github.com/goliatone/go-persisted-state"
)

func csvCodec() pstate.FieldCodec {
	return pstate.FieldCodec{
		Encode: func(value any) (string, error) {
			items, ok := value.([]any)
			if !ok {
				return "", errors.New("expected list")
			}
			parts := make([]string, 0, len(items))
			for _, item := range items {
				text, ok := item.(string)
				if !ok {
					return "", errors.New("expected string items")
				}
				parts = append(parts, text)
			}
			return strings.Join(parts, ","), nil
		},
		Decode: func(raw string) (any, error) {
			if raw == "" {
				return []any{}, nil
			}
			parts := strings.Split(raw, ",")
			items := make([]any, 0, len(parts))
			for _, part := range parts {
				items = append(items, part)
			}
			return items, nil
		},
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := pstate.NewJSONCodec()
	state := pstate.State{
		"theme":  "dark",
		"page":   float64(3),
		"layout": map[string]any{"columns": float64(2)},
	}

	raw, err := codec.Encode(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, state) {
		t.Fatalf("round trip mismatch:\nwant: %#v\n got: %#v", state, decoded)
	}
}

func TestJSONCodecDecodeRejectsMalformed(t *testing.T) {
	codec := pstate.NewJSONCodec()
	if _, err := codec.Decode(`{"theme":`); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestJSONCodecDecodeNullYieldsEmptyState(t *testing.T) {
	codec := pstate.NewJSONCodec()
	state, err := codec.Decode("null")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state == nil || len(state) != 0 {
		t.Fatalf("expected empty state, got %v", state)
	}
}

func TestJSONCodecFieldOverride(t *testing.T) {
	codec := pstate.NewJSONCodec(pstate.JSONWithFieldCodec("tags", csvCodec()))

	raw, err := codec.Encode(pstate.State{"tags": []any{"a", "b"}, "theme": "dark"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(raw, `"tags":"a,b"`) {
		t.Fatalf("expected tags embedded as csv string, got %s", raw)
	}

	decoded, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded["tags"], []any{"a", "b"}) {
		t.Fatalf("expected csv decoded back to list, got %v", decoded["tags"])
	}
	if decoded["theme"] != "dark" {
		t.Fatalf("fields without overrides must pass through, got %v", decoded["theme"])
	}
}

func TestJSONCodecFieldEncodeErrorSurfaces(t *testing.T) {
	codec := pstate.NewJSONCodec(pstate.JSONWithFieldCodec("tags", csvCodec()))
	if _, err := codec.Encode(pstate.State{"tags": 42}); err == nil {
		t.Fatalf("expected field encode error")
	}
}

func TestJSONCodecEncodeDoesNotMutateInput(t *testing.T) {
	codec := pstate.NewJSONCodec(pstate.JSONWithFieldCodec("tags", csvCodec()))
	state := pstate.State{"tags": []any{"a"}}

	if _, err := codec.Encode(state); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !reflect.DeepEqual(state["tags"], []any{"a"}) {
		t.Fatalf("encode must not replace caller values, got %v", state["tags"])
	}
}

func TestWithFieldCodecWiresIntoDefaultCodec(t *testing.T) {
	backend := pstate.NewMemoryStorage()
	store, err := pstate.New("prefs",
		pstate.WithStorage(backend),
		pstate.WithDefaults(pstate.State{}),
		pstate.WithFieldCodec("tags", csvCodec()),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	store.Set("tags", []any{"x", "y"})

	raw, ok, err := backend.Read("prefs")
	if err != nil || !ok {
		t.Fatalf("expected persisted record, ok=%v err=%v", ok, err)
	}
	if !strings.Contains(raw, `"tags":"x,y"`) {
		t.Fatalf("expected field codec applied on persist, got %s", raw)
	}

	// A fresh store over the same record decodes through the same override.
	reloaded, err := pstate.New("prefs",
		pstate.WithStorage(backend),
		pstate.WithFieldCodec("tags", csvCodec()),
	)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	tags, _ := reloaded.Get("tags")
	if !reflect.DeepEqual(tags, []any{"x", "y"}) {
		t.Fatalf("expected decoded tags, got %v", tags)
	}
}

type upperCodec struct{}

func (upperCodec) Encode(state pstate.State) (string, error) {
	theme, _ := state["theme"].(string)
	return strings.ToUpper(theme), nil
}

func (upperCodec) Decode(raw string) (pstate.State, error) {
	if raw == "" {
		return pstate.State{}, nil
	}
	return pstate.State{"theme": strings.ToLower(raw)}, nil
}

func TestWithCodecReplacesDefault(t *testing.T) {
	backend := pstate.NewMemoryStorage()
	store, err := pstate.New("prefs",
		pstate.WithStorage(backend),
		pstate.WithDefaults(pstate.State{"theme": "light"}),
		pstate.WithCodec(upperCodec{}),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	store.Set("theme", "dark")

	raw, ok, _ := backend.Read("prefs")
	if !ok || raw != "DARK" {
		t.Fatalf("expected custom encoding, got %q (ok=%v)", raw, ok)
	}
}
