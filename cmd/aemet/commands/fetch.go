package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/internal/connector"
	"github.com/yegors/aemet-connector/internal/fetch"
	"github.com/yegors/aemet-connector/internal/storage/runstore"
	"github.com/yegors/aemet-connector/pkg/logger"
)

var formats = []string{"json", "csv", "yaml"}

func (a *App) installFetch() {
	cmd := &cobra.Command{
		Use:       "fetch <dataType>",
		Short:     "Fetch one dataset and print it as a table",
		Long:      "Fetch one dataset (estaciones, prediccion or observacion) through the two AEMET requests and print the flattened table.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: wireNames(),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(a.opts.Format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFetch(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVarP(&a.opts.APIKey, "api-key", "k", "", "AEMET API key (defaults to $"+config.EnvAPIKey+" or the configuration)")
	cmd.Flags().StringVarP(&a.opts.Municipality, "municipio", "m", "", "INE municipality code for forecasts (default "+aemet.DefaultMunicipalityCode+")")
	cmd.Flags().StringVarP(&a.opts.Format, "format", "f", "json", "output format: "+strings.Join(formats, ", "))
	cmd.Flags().StringVar(&a.opts.BaseURL, "base-url", "", "AEMET API root (default "+aemet.DefaultBaseURL+")")
	cmd.Flags().BoolVar(&a.opts.Record, "record", false, "record the run in the configured run history")

	a.cmd.AddCommand(cmd)
}

func (a *App) runFetch(ctx context.Context, out io.Writer, dataType string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	log, err := a.newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	kind, err := aemet.ParseDatasetKind(dataType)
	if err != nil {
		return errors.New(connector.Describe(err))
	}

	apiKey := a.opts.APIKey
	if apiKey == "" {
		apiKey = cfg.AEMET.APIKey
	}
	municipality := a.opts.Municipality
	if municipality == "" {
		municipality = cfg.AEMET.DefaultMunicipality
	}
	req, err := aemet.NewDatasetRequest(kind, apiKey, municipality)
	if err != nil {
		return errors.New(connector.Describe(err))
	}

	transport, err := aemet.NewTransport(cfg.TransportSettings())
	if err != nil {
		return err
	}
	pipeline := aemet.NewPipeline(aemet.NewClient(cfg.ClientConfig(), transport, log), cfg.RetryPolicy(), log)

	runs, err := runstore.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	var recorder fetch.RunRecorder
	if runs != nil {
		defer runs.Close()
		recorder = runs
	}
	svc := fetch.NewService(pipeline, nil, recorder, log)

	host := &cliHost{}
	session := connector.New(cliRunner{svc: svc}, host, log).Open(req)

	var schema aemet.TableSchema
	session.GetSchema(func(schemas []aemet.TableSchema) { schema = schemas[0] })
	if host.aborted() {
		return host.err()
	}

	sink := &rowCollector{}
	session.GetData(ctx, sink, func() {
		log.Info("Dataset fetched",
			logger.String("dataset", string(req.Kind)),
			logger.Int("rows", len(sink.rows)))
	})
	if host.aborted() {
		return host.err()
	}

	return writeTable(out, a.opts.Format, schema, sink.rows)
}

// cliRunner runs every request through the fetch service as a CLI run
type cliRunner struct {
	svc *fetch.Service
}

func (r cliRunner) Run(ctx context.Context, req aemet.DatasetRequest) (*aemet.Result, error) {
	outcome, err := r.svc.Refresh(ctx, req, fetch.SourceCLI)
	return outcome.Result, err
}

// cliHost turns a connector abort into a command error
type cliHost struct {
	message string
}

func (h *cliHost) AbortWithError(message string) {
	h.message = message
}

func (h *cliHost) aborted() bool {
	return h.message != ""
}

func (h *cliHost) err() error {
	return errors.New(h.message)
}

type rowCollector struct {
	rows []aemet.Row
}

func (c *rowCollector) AppendRows(rows []aemet.Row) {
	c.rows = append(c.rows, rows...)
}

func checkFormat(format string) error {
	if !slices.Contains(formats, format) {
		return fmt.Errorf("unsupported format %q (must be one of %s)", format, strings.Join(formats, ", "))
	}
	return nil
}

func wireNames() []string {
	kinds := aemet.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.WireName()
	}
	return names
}
