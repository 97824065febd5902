package aemet

import (
	"bytes"
	"encoding/json"
)

// Field is one column value of a row
type Field struct {
	ID    string
	Value any // string, int32, float64 or nil
}

// Row is a normalized table row. Fields follow schema column order.
type Row []Field

// Get returns the value of column id
func (r Row) Get(id string) (any, bool) {
	for _, f := range r {
		if f.ID == id {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the column ids of the row in order
func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.ID
	}
	return keys
}

// MarshalJSON encodes the row as an object whose keys keep column order
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.ID)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
