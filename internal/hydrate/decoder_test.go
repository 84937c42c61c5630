package hydrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestDecoderFromFixtures(t *testing.T) {
	fx := loadFixture(t, "hydrate_preferences.json")

	for _, tc := range fx.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			options := buildOptions(tc)
			decoder := NewDecoder[preferences](options...)

			result, err := decoder.Decode(Context{Key: tc.Key}, tc.Input)

			if tc.ExpectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.ExpectErr)
				}
				if !strings.Contains(err.Error(), tc.ExpectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.ExpectErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}

			if !reflect.DeepEqual(tc.Expect, result) {
				t.Fatalf("decoded snapshot mismatch:\nwant: %#v\n got: %#v", tc.Expect, result)
			}
		})
	}
}

func TestDecodeNilSnapshotFails(t *testing.T) {
	decoder := NewDecoder[preferences]()
	if _, err := decoder.Decode(Context{Key: "prefs"}, nil); err == nil {
		t.Fatalf("expected nil snapshot rejection")
	}
}

func TestDecodeDoesNotMutateSnapshot(t *testing.T) {
	decoder := NewDecoder[preferences](WithPreHook[preferences](func(_ Context, payload map[string]any) (map[string]any, error) {
		payload["theme"] = "mutated"
		return payload, nil
	}))

	snapshot := map[string]any{"theme": "dark"}
	result, err := decoder.Decode(Context{Key: "prefs"}, snapshot)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Theme != "mutated" {
		t.Fatalf("expected pre-hook output decoded, got %q", result.Theme)
	}
	if snapshot["theme"] != "dark" {
		t.Fatalf("caller snapshot must stay untouched, got %v", snapshot["theme"])
	}
}

func buildOptions(tc fixtureCase) []DecoderOption[preferences] {
	options := []DecoderOption[preferences]{}

	for _, optName := range tc.Options {
		switch optName {
		case "use_number":
			options = append(options, WithUseNumber[preferences]())
		case "disallow_unknown":
			options = append(options, WithDisallowUnknownFields[preferences]())
		}
	}

	for _, hookName := range tc.PreHooks {
		switch hookName {
		case "layout_split":
			options = append(options, WithPreHook[preferences](layoutSplitPreHook))
		}
	}

	for _, hookName := range tc.PostHooks {
		switch hookName {
		case "ensure_tag":
			options = append(options, WithPostHook[preferences](ensureTagPostHook))
		}
	}

	if tc.CustomDecoder != "" {
		switch tc.CustomDecoder {
		case "snapshot_string":
			options = append(options, WithCustomDecoder[preferences](snapshotStringDecoder))
		}
	}

	return options
}

// layoutSplitPreHook expands the compact "columns:sidebar" layout form into
// the structured shape.
func layoutSplitPreHook(_ Context, payload map[string]any) (map[string]any, error) {
	value, ok := payload["layout"].(string)
	if !ok || value == "" {
		return payload, nil
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid layout payload %q", value)
	}
	columns, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid layout columns %q", parts[0])
	}

	payload["layout"] = map[string]any{
		"columns": columns,
		"sidebar": strings.TrimSpace(parts[1]) == "sidebar",
	}
	return payload, nil
}

func ensureTagPostHook(ctx Context, view *preferences) error {
	if view == nil {
		return errors.New("view is nil")
	}
	if len(view.Tags) > 0 {
		return nil
	}
	view.Tags = []string{fmt.Sprintf("key:%s", ctx.Key)}
	return nil
}

func snapshotStringDecoder(ctx Context, payload map[string]any) (preferences, error) {
	var zero preferences
	raw, ok := payload["snapshot"].(string)
	if !ok || raw == "" {
		return zero, fmt.Errorf("missing snapshot string for key %q", ctx.Key)
	}
	var out preferences
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return zero, err
	}
	return out, nil
}

type fixture struct {
	Description string        `json:"description"`
	Cases       []fixtureCase `json:"cases"`
}

type fixtureCase struct {
	Name          string         `json:"name"`
	Key           string         `json:"key"`
	Input         map[string]any `json:"input"`
	Expect        preferences    `json:"expect"`
	ExpectErr     string         `json:"expectErr"`
	PreHooks      []string       `json:"preHooks"`
	PostHooks     []string       `json:"postHooks"`
	Options       []string       `json:"options"`
	CustomDecoder string         `json:"customDecoder"`
}

type preferences struct {
	Theme  string   `json:"theme"`
	Page   int      `json:"page"`
	Layout layout   `json:"layout"`
	Tags   []string `json:"tags"`
}

type layout struct {
	Columns int  `json:"columns"`
	Sidebar bool `json:"sidebar"`
}

func loadFixture(t *testing.T, name string) fixture {
	t.Helper()
	path := filepath.Join("..", "..", "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read hydrate fixture %q: %v", name, err)
	}
	var fx fixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal hydrate fixture %q: %v", name, err)
	}
	return fx
}
