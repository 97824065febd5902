package aemet

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Flatten reshapes a second-hop payload into rows matching ResolveSchema(kind).
//
// Stations and observations must be JSON arrays; each element becomes a row.
// Forecasts only use the first array element and emit one row per entry of
// prediccion.dia. A forecast without that structure yields zero rows.
func Flatten(kind DatasetKind, raw []byte) ([]Row, error) {
	t, ok := tables[kind]
	if !ok {
		return nil, &PipelineError{Stage: StageFlatten, Kind: ErrUnknownDatasetKind, Description: fmt.Sprintf("%q", kind)}
	}

	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, &PipelineError{Stage: StageFlatten, Kind: ErrMalformedPayload, Err: err}
	}

	rows := []Row{}
	items, isArray := doc.([]any)

	if kind == KindForecast {
		if !isArray || len(items) == 0 {
			return rows, nil
		}
		parent, ok := items[0].(map[string]any)
		if !ok {
			return rows, nil
		}
		days, ok := lookup(parent, []string{"prediccion", "dia"})
		if !ok {
			return rows, nil
		}
		dayList, ok := days.([]any)
		if !ok {
			return rows, nil
		}
		for _, day := range dayList {
			rows = append(rows, t.row(day, parent))
		}
		return rows, nil
	}

	if !isArray {
		return nil, &PipelineError{Stage: StageFlatten, Kind: ErrMalformedPayload, Description: fmt.Sprintf("expected a JSON array, got %s", jsonKind(doc))}
	}
	for _, item := range items {
		rows = append(rows, t.row(item, nil))
	}
	return rows, nil
}

func (t table) row(item, parent any) Row {
	row := make(Row, len(t.columns))
	for i, c := range t.columns {
		src := item
		if c.from == scopeParent {
			src = parent
		}
		v, found := lookup(src, c.path)
		if found && v == nil {
			found = false
		}
		row[i] = Field{ID: c.id, Value: c.coerce(v, found)}
	}
	return row
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return doc, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	}
	return "null"
}
