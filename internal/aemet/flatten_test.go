package aemet_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/aemet-connector/internal/aemet"
)

const forecastPayload = `[{
	"nombre": "Madrid",
	"provincia": "Madrid",
	"prediccion": {"dia": [
		{"fecha": "2024-05-01T00:00:00", "temperatura": {"maxima": 25, "minima": 12},
		 "estadoCielo": [{"descripcion": "Soleado"}], "probPrecipitacion": [{"value": 5}]},
		{"fecha": "2024-05-02T00:00:00", "temperatura": {"maxima": "23,5", "minima": 11},
		 "estadoCielo": [], "probPrecipitacion": [{"value": "40"}]}
	]}
}]`

func TestFlatten(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind    aemet.DatasetKind
		payload string

		wantRows   int
		wantValues map[int]map[string]any
		wantErr    error
	}{
		"Station with all fields": {
			kind:     aemet.KindStations,
			payload:  `[{"indicativo":"3195","nombre":"MADRID","provincia":"MADRID","altitud":"100","longitud":"-3.5","latitud":"40.1","indsinop":"08221"}]`,
			wantRows: 1,
			wantValues: map[int]map[string]any{0: {
				"indicativo": "3195", "nombre": "MADRID", "provincia": "MADRID",
				"altitud": int32(100), "longitud": -3.5, "latitud": 40.1, "indsinop": "08221",
			}},
		},
		"Empty station object falls back to zero values": {
			kind:     aemet.KindStations,
			payload:  `[{}]`,
			wantRows: 1,
			wantValues: map[int]map[string]any{0: {
				"indicativo": "", "nombre": "", "provincia": "",
				"altitud": int32(0), "longitud": float64(0), "latitud": float64(0), "indsinop": "",
			}},
		},
		"Station altitude truncates toward zero": {
			kind:       aemet.KindStations,
			payload:    `[{"altitud": -12.9}]`,
			wantRows:   1,
			wantValues: map[int]map[string]any{0: {"altitud": int32(-12)}},
		},
		"Station altitude clamps to int32": {
			kind:       aemet.KindStations,
			payload:    `[{"altitud": 1e12}]`,
			wantRows:   1,
			wantValues: map[int]map[string]any{0: {"altitud": int32(2147483647)}},
		},
		"Non-object station elements flatten as empty": {
			kind:       aemet.KindStations,
			payload:    `[42, {"nombre":"A"}]`,
			wantRows:   2,
			wantValues: map[int]map[string]any{0: {"nombre": ""}, 1: {"nombre": "A"}},
		},
		"Observation with null temperature": {
			kind:     aemet.KindObservation,
			payload:  `[{"idema":"3195","ubi":"MADRID RETIRO","fint":"2024-05-01T10:00:00","ta":null,"prec":0.2,"hr":"55","vv":"abc"}]`,
			wantRows: 1,
			wantValues: map[int]map[string]any{0: {
				"idema": "3195", "estacion": "MADRID RETIRO", "fecha": "2024-05-01T10:00:00",
				"temperatura": nil, "precipitacion": 0.2, "humedad_relativa": float64(55),
				"velocidad_viento": nil, "direccion_viento": nil,
			}},
		},
		"Forecast yields one row per day": {
			kind:     aemet.KindForecast,
			payload:  forecastPayload,
			wantRows: 2,
			wantValues: map[int]map[string]any{
				0: {
					"municipio": "Madrid", "provincia": "Madrid", "fecha": "2024-05-01T00:00:00",
					"temperatura_maxima": float64(25), "temperatura_minima": float64(12),
					"estado_cielo": "Soleado", "probabilidad_precipitacion": float64(5),
				},
				1: {
					"municipio": "Madrid", "temperatura_maxima": 23.5,
					"estado_cielo": "", "probabilidad_precipitacion": float64(40),
				},
			},
		},
		"Empty forecast array yields no rows": {
			kind:    aemet.KindForecast,
			payload: `[]`,
		},
		"Forecast object instead of array yields no rows": {
			kind:    aemet.KindForecast,
			payload: `{"nombre":"Madrid"}`,
		},
		"Forecast without days yields no rows": {
			kind:    aemet.KindForecast,
			payload: `[{"nombre":"Madrid","prediccion":{}}]`,
		},
		"Empty station array yields no rows": {
			kind:    aemet.KindStations,
			payload: `[]`,
		},

		"Error when stations payload is not an array": {
			kind:    aemet.KindStations,
			payload: `{"estado":200}`,
			wantErr: aemet.ErrMalformedPayload,
		},
		"Error when observation payload is not JSON": {
			kind:    aemet.KindObservation,
			payload: `<html>`,
			wantErr: aemet.ErrMalformedPayload,
		},
		"Error when forecast payload is not JSON": {
			kind:    aemet.KindForecast,
			payload: `[{`,
			wantErr: aemet.ErrMalformedPayload,
		},
		"Error on unknown kind": {
			kind:    aemet.DatasetKind("radar"),
			payload: `[]`,
			wantErr: aemet.ErrUnknownDatasetKind,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rows, err := aemet.Flatten(tc.kind, []byte(tc.payload))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Nil(t, rows, "No partial rows on failure")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, rows, "Rows must be an empty slice, not nil")
			require.Len(t, rows, tc.wantRows)

			for i, want := range tc.wantValues {
				for id, v := range want {
					got, ok := rows[i].Get(id)
					require.True(t, ok, "Row %d is missing column %q", i, id)
					assert.Equal(t, v, got, "Row %d column %q", i, id)
				}
			}
		})
	}
}

func TestRowKeysMatchSchema(t *testing.T) {
	t.Parallel()

	payloads := map[aemet.DatasetKind]string{
		aemet.KindStations:    `[{"indicativo":"X","extra":"ignored"},{}]`,
		aemet.KindForecast:    forecastPayload,
		aemet.KindObservation: `[{"ta":1},{"unknown":true}]`,
	}

	for _, kind := range aemet.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()

			schema, err := aemet.ResolveSchema(kind)
			require.NoError(t, err)

			rows, err := aemet.Flatten(kind, []byte(payloads[kind]))
			require.NoError(t, err)
			require.NotEmpty(t, rows)

			for _, row := range rows {
				assert.Equal(t, schema.ColumnIDs(), row.Keys(), "Row keys must follow schema order")
			}
		})
	}
}

func TestRowMarshalJSONKeepsColumnOrder(t *testing.T) {
	t.Parallel()

	rows, err := aemet.Flatten(aemet.KindObservation, []byte(`[{"idema":"A","ta":"12,5"}]`))
	require.NoError(t, err)

	got, err := json.Marshal(rows[0])
	require.NoError(t, err)

	want := `{"idema":"A","estacion":"","fecha":"","temperatura":12.5,"precipitacion":null,"humedad_relativa":null,"velocidad_viento":null,"direccion_viento":null}`
	assert.Equal(t, want, string(got))
}

func TestResolveSchema(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		kind aemet.DatasetKind

		wantID      string
		wantColumns int
		wantErr     bool
	}{
		"Stations":    {kind: aemet.KindStations, wantID: "estacionesAEMET", wantColumns: 7},
		"Forecast":    {kind: aemet.KindForecast, wantID: "prediccionAEMET", wantColumns: 7},
		"Observation": {kind: aemet.KindObservation, wantID: "observacionAEMET", wantColumns: 8},

		"Error on unknown kind": {kind: "radar", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			schema, err := aemet.ResolveSchema(tc.kind)
			if tc.wantErr {
				require.True(t, errors.Is(err, aemet.ErrUnknownDatasetKind), "Expected unknown dataset kind, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, schema.ID)
			assert.Len(t, schema.Columns, tc.wantColumns)
			assert.NotEmpty(t, schema.Alias)
		})
	}
}
