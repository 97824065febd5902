package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/aemet-connector/cmd/aemet/commands"
	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/internal/storage/sqlite"
	"github.com/yegors/aemet-connector/pkg/logger"
)

const (
	testKey = "cli-key"

	stationsPayload    = `[{"indicativo":"3195","nombre":"MADRID, RETIRO","provincia":"MADRID","altitud":"667","longitud":"-3.678","latitud":"40.411","indsinop":"08222"}]`
	forecastPayload    = `[{"nombre":"Barcelona","provincia":"Barcelona","prediccion":{"dia":[{"fecha":"2024-05-01T00:00:00","temperatura":{"maxima":21,"minima":14},"estadoCielo":[{"descripcion":"Nubes altas"}],"probPrecipitacion":[{"value":10}]}]}}]`
	observationPayload = `[{"idema":"3195","ubi":"MADRID RETIRO","fint":"2024-05-01T10:00:00","ta":18.4,"prec":null,"hr":55,"vv":2.1,"dv":180}]`
)

// fakeAEMET serves both hops for every dataset and records the first-hop paths.
type fakeAEMET struct {
	*httptest.Server

	mu    sync.Mutex
	paths []string
}

func newFakeAEMET(t *testing.T) *fakeAEMET {
	t.Helper()

	f := &fakeAEMET{}
	payloads := map[string]string{
		"/valores/climatologicos/inventarioestaciones/todasestaciones": stationsPayload,
		"/observacion/convencional/todas":                              observationPayload,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/datos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("src") {
		case "forecast":
			fmt.Fprint(w, forecastPayload)
		default:
			fmt.Fprint(w, payloads[r.URL.Query().Get("src")])
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		if r.Header.Get("api_key") != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"descripcion":"API key invalido","estado":401}`)
			return
		}
		src := r.URL.Path
		if strings.HasPrefix(src, "/prediccion/") {
			src = "forecast"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"descripcion":"exito","estado":200,"datos":"%s/datos?src=%s"}`, f.URL, src)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAEMET) lastPath(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.paths, "AEMET should have been called")
	return f.paths[len(f.paths)-1]
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	app := commands.New()
	cmd := app.RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

//nolint:paralleltest // Tests clear the API key environment variable.
func TestFetch(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")

	tests := map[string]struct {
		args []string

		wantPath     string
		wantContains []string
		wantErr      string
	}{
		"stations as json": {
			args:         []string{"fetch", "estaciones", "--api-key", testKey},
			wantPath:     "/valores/climatologicos/inventarioestaciones/todasestaciones",
			wantContains: []string{`"tableId": "estacionesAEMET"`, `"indicativo": "3195"`, `"altitud": 667`},
		},
		"stations as csv": {
			args:     []string{"fetch", "stations", "-k", testKey, "--format", "csv"},
			wantPath: "/valores/climatologicos/inventarioestaciones/todasestaciones",
			wantContains: []string{
				"indicativo,nombre,provincia,altitud,longitud,latitud,indsinop\n",
				`3195,"MADRID, RETIRO",MADRID,667,-3.678,40.411,08222`,
			},
		},
		"observation as yaml keeps nulls": {
			args:         []string{"fetch", "observacion", "-k", testKey, "-f", "yaml"},
			wantPath:     "/observacion/convencional/todas",
			wantContains: []string{"tableId: observacionAEMET", "idema: \"3195\"", "precipitacion: null", "temperatura: 18.4"},
		},
		"forecast for a municipality": {
			args:         []string{"fetch", "prediccion", "-k", testKey, "--municipio", "08019"},
			wantPath:     "/prediccion/especifica/municipio/diaria/08019",
			wantContains: []string{`"municipio": "Barcelona"`, `"estado_cielo": "Nubes altas"`},
		},
		"forecast default municipality": {
			args:     []string{"fetch", "forecast", "-k", testKey},
			wantPath: "/prediccion/especifica/municipio/diaria/28079",
		},

		// Error cases
		"missing api key": {
			args:    []string{"fetch", "estaciones"},
			wantErr: "API key is required",
		},
		"unknown dataset": {
			args:    []string{"fetch", "radar", "-k", testKey},
			wantErr: "Unknown data type",
		},
		"rejected api key": {
			args:    []string{"fetch", "estaciones", "-k", "wrong"},
			wantErr: "AEMET rejected the API key",
		},
		"unsupported format": {
			args:    []string{"fetch", "estaciones", "-k", testKey, "-f", "xml"},
			wantErr: "unsupported format",
		},
		"missing dataset argument": {
			args:    []string{"fetch"},
			wantErr: "accepts 1 arg",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFakeAEMET(t)

			out, err := run(t, append(tc.args, "--base-url", f.URL)...)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tc.wantPath, f.lastPath(t))
			for _, want := range tc.wantContains {
				assert.Contains(t, out, want)
			}
		})
	}
}

//nolint:paralleltest // Tests clear the API key environment variable.
func TestFetchJSONIsValid(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")
	f := newFakeAEMET(t)

	out, err := run(t, "fetch", "estaciones", "-k", testKey, "--base-url", f.URL)
	require.NoError(t, err)

	var got struct {
		TableID string           `json:"tableId"`
		Columns []map[string]any `json:"columns"`
		Rows    []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), "output should be JSON: %s", out)
	assert.Equal(t, "estacionesAEMET", got.TableID)
	assert.Len(t, got.Columns, 7)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "MADRID, RETIRO", got.Rows[0]["nombre"])
}

//nolint:paralleltest // Tests set the API key environment variable.
func TestFetchUsesEnvironmentKeyAndRecords(t *testing.T) {
	t.Setenv(config.EnvAPIKey, testKey)
	f := newFakeAEMET(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
[storage]
enabled = true
type = "sqlite"
sqlite_path = %q
`, dbPath)), 0o600), "Setup: failed to write config")

	_, err := run(t, "fetch", "observacion", "--config", configPath, "--record", "--base-url", f.URL)
	require.NoError(t, err)

	store, err := sqlite.NewRunStorage(dbPath, logger.NewNop())
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "observation", runs[0].Dataset)
	assert.Equal(t, "cli", runs[0].Source)
	assert.Equal(t, 1, runs[0].RowCount)
}

func TestSchema(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string

		wantContains []string
		wantErr      bool
	}{
		"json": {
			args:         []string{"schema", "prediccion"},
			wantContains: []string{`"tableId": "prediccionAEMET"`, `"id": "temperatura_maxima"`, `"dataType": "float"`},
		},
		"csv": {
			args:         []string{"schema", "estaciones", "-f", "csv"},
			wantContains: []string{"id,dataType,alias\n", "altitud,int,Altitud\n"},
		},
		"yaml": {
			args:         []string{"schema", "observation", "-f", "yaml"},
			wantContains: []string{"tableId: observacionAEMET", "- id: idema"},
		},

		// Error cases
		"unknown dataset": {args: []string{"schema", "radar"}, wantErr: true},
		"bad format":      {args: []string{"schema", "estaciones", "-f", "xml"}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			out, err := run(t, tc.args...)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, want := range tc.wantContains {
				assert.Contains(t, out, want)
			}
			assert.NotContains(t, out, "rows", "schema output carries no rows")
		})
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "aemet\t"+commands.Version+"\n", out)
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	app := commands.New()
	app.RootCmd().SetArgs([]string{"fetch", "--no-such-flag"})
	app.RootCmd().SetOut(io.Discard)
	app.RootCmd().SetErr(io.Discard)

	require.Error(t, app.RootCmd().Execute())
	assert.True(t, app.UsageError(), "flag parsing errors are usage errors")
}
