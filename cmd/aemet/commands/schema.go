package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/connector"
)

func (a *App) installSchema() {
	var format string

	cmd := &cobra.Command{
		Use:       "schema <dataType>",
		Short:     "Print the table schema of a dataset without calling AEMET",
		Args:      cobra.ExactArgs(1),
		ValidArgs: wireNames(),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := aemet.ParseDatasetKind(args[0])
			if err != nil {
				return errors.New(connector.Describe(err))
			}
			schema, err := aemet.ResolveSchema(kind)
			if err != nil {
				return errors.New(connector.Describe(err))
			}
			return writeSchema(cmd.OutOrStdout(), format, schema)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, csv, yaml")

	a.cmd.AddCommand(cmd)
}
