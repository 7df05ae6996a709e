package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/edp-engine/pkg/jsonutil"
)

// JSONDocument is a parsed semi-structured document.
type JSONDocument struct {
	Tables   []*Table
	MaxDepth int
}

// ReadJSON extracts record tables from a JSON document: an array of objects
// at the root, or arrays of objects under top-level keys. Nested objects are
// flattened into dotted column names up to maxDepth levels.
func ReadJSON(name string, data []byte, maxDepth int) (*JSONDocument, error) {
	text, _ := DecodeText(data)
	raw := json.RawMessage(bytes.TrimSpace([]byte(text)))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("document is not valid JSON")
	}

	doc := &JSONDocument{MaxDepth: jsonutil.Depth(raw)}
	switch raw[0] {
	case '[':
		t, err := recordsTable(name, raw, maxDepth)
		if err != nil {
			return nil, err
		}
		if t != nil {
			doc.Tables = append(doc.Tables, t)
		}
	case '{':
		keys, values, err := jsonutil.Flatten(raw, 1)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			v := values[key]
			if len(v) == 0 || v[0] != '[' {
				continue
			}
			t, err := recordsTable(key, v, maxDepth)
			if err != nil {
				return nil, err
			}
			if t != nil {
				doc.Tables = append(doc.Tables, t)
			}
		}
	}
	return doc, nil
}

// recordsTable returns nil when the array holds anything but objects.
func recordsTable(name string, raw json.RawMessage, maxDepth int) (*Table, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode array %q: %w", name, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	var header []string
	index := map[string]int{}
	records := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, nil
		}
		keys, values, err := jsonutil.Flatten(item, maxDepth)
		if err != nil {
			return nil, fmt.Errorf("flatten record in %q: %w", name, err)
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(header)
				header = append(header, k)
			}
		}
		records = append(records, values)
	}

	rows := make([][]string, len(records))
	for r, rec := range records {
		row := make([]string, len(header))
		for k, v := range rec {
			row[index[k]] = jsonutil.FlexibleStringValue(v)
		}
		rows[r] = row
	}
	return FromRecords(name, header, rows), nil
}
