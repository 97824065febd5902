package aemet

// missingPolicy decides what an absent or unparseable source value becomes
type missingPolicy int

const (
	// zeroOnMissing yields "" for strings and 0 for numbers
	zeroOnMissing missingPolicy = iota
	// nullOnMissing yields nil for numbers; strings still fall back to ""
	nullOnMissing
)

// scope selects which JSON object a column path is resolved against
type scope int

const (
	scopeItem   scope = iota // the array element being flattened
	scopeParent              // the enclosing record (forecast municipality)
)

// columnRule is the single declarative description of a column: its schema
// entry plus how the value is found and coerced.
type columnRule struct {
	id      string
	alias   string
	typ     ScalarType
	from    scope
	path    []string
	missing missingPolicy
}

type table struct {
	id      string
	alias   string
	columns []columnRule
}

func col(id, alias string, typ ScalarType, path ...string) columnRule {
	return columnRule{id: id, alias: alias, typ: typ, path: path}
}

func (c columnRule) nullable() columnRule {
	c.missing = nullOnMissing
	return c
}

func (c columnRule) fromParent() columnRule {
	c.from = scopeParent
	return c
}

var tables = map[DatasetKind]table{
	KindStations: {
		id:    "estacionesAEMET",
		alias: "Estaciones meteorológicas de AEMET",
		columns: []columnRule{
			col("indicativo", "Indicativo", TypeString, "indicativo"),
			col("nombre", "Nombre", TypeString, "nombre"),
			col("provincia", "Provincia", TypeString, "provincia"),
			col("altitud", "Altitud", TypeInt, "altitud"),
			col("longitud", "Longitud", TypeFloat, "longitud"),
			col("latitud", "Latitud", TypeFloat, "latitud"),
			col("indsinop", "Índice SINOP", TypeString, "indsinop"),
		},
	},
	KindForecast: {
		id:    "prediccionAEMET",
		alias: "Predicción meteorológica diaria AEMET",
		columns: []columnRule{
			col("municipio", "Municipio", TypeString, "nombre").fromParent(),
			col("provincia", "Provincia", TypeString, "provincia").fromParent(),
			col("fecha", "Fecha", TypeString, "fecha"),
			col("temperatura_maxima", "Temperatura Máxima", TypeFloat, "temperatura", "maxima"),
			col("temperatura_minima", "Temperatura Mínima", TypeFloat, "temperatura", "minima"),
			col("estado_cielo", "Estado del Cielo", TypeString, "estadoCielo", "0", "descripcion"),
			col("probabilidad_precipitacion", "Prob. Precipitación", TypeFloat, "probPrecipitacion", "0", "value"),
		},
	},
	KindObservation: {
		id:    "observacionAEMET",
		alias: "Datos de observación AEMET",
		columns: []columnRule{
			col("idema", "Identificador de Estación", TypeString, "idema"),
			col("estacion", "Estación", TypeString, "ubi"),
			col("fecha", "Fecha y Hora", TypeString, "fint"),
			col("temperatura", "Temperatura", TypeFloat, "ta").nullable(),
			col("precipitacion", "Precipitación", TypeFloat, "prec").nullable(),
			col("humedad_relativa", "Humedad Relativa", TypeFloat, "hr").nullable(),
			col("velocidad_viento", "Velocidad Viento", TypeFloat, "vv").nullable(),
			col("direccion_viento", "Dirección Viento", TypeFloat, "dv").nullable(),
		},
	},
}
