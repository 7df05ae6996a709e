package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"hello"`),
			want:  "hello",
		},
		{
			name:  "integer value",
			input: json.RawMessage(`42`),
			want:  "42",
		},
		{
			name:  "float value",
			input: json.RawMessage(`3.14`),
			want:  "3.14",
		},
		{
			name:  "float with zero fraction keeps its form",
			input: json.RawMessage(`2.0`),
			want:  "2.0",
		},
		{
			name:  "boolean true",
			input: json.RawMessage(`true`),
			want:  "true",
		},
		{
			name:  "boolean false",
			input: json.RawMessage(`false`),
			want:  "false",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "empty input",
			input: nil,
			want:  "",
		},
		{
			name:  "array is compacted",
			input: json.RawMessage(`[1, 2,  3]`),
			want:  "[1,2,3]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlexibleStringValue(tt.input); got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	raw := json.RawMessage(`{"id": 1, "user": {"name": "Ana", "geo": {"lat": 1.5}}, "tags": ["a", "b"]}`)

	keys, values, err := Flatten(raw, 0)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}

	wantKeys := []string{"id", "user.name", "user.geo.lat", "tags"}
	if len(keys) != len(wantKeys) {
		t.Fatalf("keys = %v, want %v", keys, wantKeys)
	}
	for i := range wantKeys {
		if keys[i] != wantKeys[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], wantKeys[i])
		}
	}
	if got := FlexibleStringValue(values["user.geo.lat"]); got != "1.5" {
		t.Errorf("user.geo.lat = %q", got)
	}
	if got := FlexibleStringValue(values["tags"]); got != `["a","b"]` {
		t.Errorf("tags = %q", got)
	}
}

func TestFlatten_DepthLimit(t *testing.T) {
	keys, values, err := Flatten(json.RawMessage(`{"a": {"b": {"c": 1}}}`), 2)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a.b" {
		t.Fatalf("keys = %v", keys)
	}
	if got := FlexibleStringValue(values["a.b"]); got != `{"c":1}` {
		t.Errorf("a.b = %q", got)
	}
}

func TestFlatten_RejectsNonObject(t *testing.T) {
	if _, _, err := Flatten(json.RawMessage(`[1]`), 0); err == nil {
		t.Error("expected error for array input")
	}
}

func TestDepth(t *testing.T) {
	if d := Depth(json.RawMessage(`{"a": [{"b": 1}]}`)); d != 3 {
		t.Errorf("Depth = %d, want 3", d)
	}
	if d := Depth(json.RawMessage(`5`)); d != 0 {
		t.Errorf("Depth = %d, want 0", d)
	}
}
