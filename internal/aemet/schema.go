package aemet

import "fmt"

// ScalarType is the declared type of a table column
type ScalarType string

const (
	TypeString ScalarType = "string"
	TypeInt    ScalarType = "int"
	TypeFloat  ScalarType = "float"
)

// Column describes one column of a table schema
type Column struct {
	ID    string     `json:"id"`
	Alias string     `json:"alias"`
	Type  ScalarType `json:"dataType"`
}

// TableSchema describes the table produced for one dataset kind
type TableSchema struct {
	ID      string   `json:"id"`
	Alias   string   `json:"alias"`
	Columns []Column `json:"columns"`
}

// ColumnIDs returns the column ids in declaration order
func (s TableSchema) ColumnIDs() []string {
	ids := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		ids[i] = c.ID
	}
	return ids
}

// ResolveSchema returns the table schema for kind. It performs no I/O.
func ResolveSchema(kind DatasetKind) (TableSchema, error) {
	t, ok := tables[kind]
	if !ok {
		return TableSchema{}, &PipelineError{Stage: StageSchema, Kind: ErrUnknownDatasetKind, Description: fmt.Sprintf("%q", kind)}
	}
	return t.schema(), nil
}

func (t table) schema() TableSchema {
	cols := make([]Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = Column{ID: c.id, Alias: c.alias, Type: c.typ}
	}
	return TableSchema{ID: t.id, Alias: t.alias, Columns: cols}
}
