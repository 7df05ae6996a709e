// Package jsonutil converts loosely typed JSON documents into flat string cells.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting
// strings, numbers and booleans alike. Returns empty string for null/empty.
// Numbers keep their literal form so integer columns stay integers.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if f, err := strconv.ParseFloat(numVal.String(), 64); err == nil && f == float64(int64(f)) && !bytes.ContainsAny(raw, ".eE") {
			return fmt.Sprintf("%d", int64(f))
		}
		return numVal.String()
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	// Fallback: return compact raw representation (arrays, objects)
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

// Flatten turns a JSON object into dotted-key leaf values. Nested objects
// contribute "parent.child" keys up to maxDepth levels; deeper values and
// arrays are kept as raw JSON. Keys are returned in document order.
func Flatten(raw json.RawMessage, maxDepth int) ([]string, map[string]json.RawMessage, error) {
	var keys []string
	values := make(map[string]json.RawMessage)
	if err := flatten(raw, "", 0, maxDepth, &keys, values); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

func flatten(raw json.RawMessage, prefix string, depth, maxDepth int, keys *[]string, out map[string]json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}

		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) > 0 && trimmed[0] == '{' && (maxDepth <= 0 || depth+1 < maxDepth) {
			if err := flatten(trimmed, name, depth+1, maxDepth, keys, out); err != nil {
				return err
			}
			continue
		}
		if _, seen := out[name]; !seen {
			*keys = append(*keys, name)
		}
		out[name] = trimmed
	}
	return nil
}

// Depth returns the nesting depth of a JSON value (scalars are 0).
func Depth(raw json.RawMessage) int {
	dec := json.NewDecoder(bytes.NewReader(raw))
	depth, deepest := 0, 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return deepest
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
				deepest = max(deepest, depth)
			default:
				depth--
			}
		}
	}
}
