package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/yegors/aemet-connector/internal/aemet"
)

type tableOutput struct {
	TableID    string         `json:"tableId" yaml:"tableId"`
	TableAlias string         `json:"tableAlias" yaml:"tableAlias"`
	Columns    []columnOutput `json:"columns" yaml:"columns"`
	Rows       *[]aemet.Row   `json:"rows,omitempty" yaml:"-"`
	YAMLRows   *yaml.Node     `json:"-" yaml:"rows,omitempty"`
}

type columnOutput struct {
	ID       string `json:"id" yaml:"id"`
	DataType string `json:"dataType" yaml:"dataType"`
	Alias    string `json:"alias" yaml:"alias"`
}

func newTableOutput(schema aemet.TableSchema) tableOutput {
	cols := make([]columnOutput, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = columnOutput{ID: c.ID, DataType: string(c.Type), Alias: c.Alias}
	}
	return tableOutput{TableID: schema.ID, TableAlias: schema.Alias, Columns: cols}
}

// writeTable prints the schema and rows in the requested format
func writeTable(w io.Writer, format string, schema aemet.TableSchema, rows []aemet.Row) error {
	if rows == nil {
		rows = []aemet.Row{}
	}

	switch format {
	case "csv":
		return writeCSV(w, schema.ColumnIDs(), rowRecords(schema, rows))
	case "yaml":
		out := newTableOutput(schema)
		node, err := rowsNode(rows)
		if err != nil {
			return err
		}
		out.YAMLRows = node
		return writeYAML(w, out)
	default:
		out := newTableOutput(schema)
		out.Rows = &rows
		return writeJSON(w, out)
	}
}

// writeSchema prints the schema only
func writeSchema(w io.Writer, format string, schema aemet.TableSchema) error {
	out := newTableOutput(schema)
	switch format {
	case "csv":
		records := make([][]string, len(out.Columns))
		for i, c := range out.Columns {
			records[i] = []string{c.ID, c.DataType, c.Alias}
		}
		return writeCSV(w, []string{"id", "dataType", "alias"}, records)
	case "yaml":
		return writeYAML(w, out)
	default:
		return writeJSON(w, out)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func writeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// rowsNode builds a yaml sequence whose mappings keep column order
func rowsNode(rows []aemet.Row) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range r {
			var v yaml.Node
			if err := v.Encode(f.Value); err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", f.ID, err)
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: f.ID}, &v)
		}
		seq.Content = append(seq.Content, m)
	}
	return seq, nil
}

func rowRecords(schema aemet.TableSchema, rows []aemet.Row) [][]string {
	records := make([][]string, len(rows))
	for i, r := range rows {
		record := make([]string, len(schema.Columns))
		for j, c := range schema.Columns {
			v, _ := r.Get(c.ID)
			record[j] = formatValue(v)
		}
		records[i] = record
	}
	return records
}

// formatValue renders a cell for csv; null cells are empty
func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
