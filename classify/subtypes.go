package classify

import (
	"sort"
	"strings"

	"github.com/Lina-go/backend-delfos-sub000/core"
)

// Pattern types group sub-types by analytical family.
const (
	PatternComparacion = "comparacion"
	PatternRelacion    = "relacion"
	PatternProyeccion  = "proyeccion"
	PatternSimulacion  = "simulacion"
)

// Temporalities.
const (
	TemporalityStatic   = "estatico"
	TemporalityTemporal = "temporal"
)

// Intents.
const (
	IntentPointValue  = "nivel_puntual"
	IntentNeedsVisual = "requiere_visualizacion"
	DefaultSubType    = "valor_puntual"
)

// SubType describes one request shape.
type SubType struct {
	Name        string
	PatternType string
	Temporality string
	// Chart is the default output kind when the intent needs a visual.
	Chart string
	// Blocked shapes are recognised but never resolved.
	Blocked bool
}

// SubTypes is the table of every known request shape.
var SubTypes = map[string]SubType{
	"valor_puntual":           {Chart: core.OutputTable},
	"comparacion_directa":     {Chart: core.OutputBar},
	"ranking":                 {Chart: core.OutputBar},
	"concentracion":           {Chart: core.OutputPie},
	"composicion_simple":      {Chart: core.OutputPie},
	"composicion_comparada":   {Chart: core.OutputStackedBar},
	"tendencia_simple":        {Chart: core.OutputLine, Temporality: TemporalityTemporal},
	"tendencia_comparada":     {Chart: core.OutputLine, Temporality: TemporalityTemporal},
	"evolucion_composicion":   {Chart: core.OutputStackedBar, Temporality: TemporalityTemporal},
	"evolucion_concentracion": {Chart: core.OutputStackedBar, Temporality: TemporalityTemporal},
	"relacion":                {Chart: core.OutputScatter, PatternType: PatternRelacion},
	"covariacion":             {Chart: core.OutputScatter, PatternType: PatternRelacion, Temporality: TemporalityTemporal},
	"sensibilidad":            {Chart: core.OutputTable, PatternType: PatternRelacion, Blocked: true},
	"descomposicion_cambio":   {Chart: core.OutputTable, PatternType: PatternProyeccion, Blocked: true},
	"what_if":                 {Chart: core.OutputTable, PatternType: PatternProyeccion, Blocked: true},
	"capacidad":               {Chart: core.OutputTable, PatternType: PatternSimulacion, Blocked: true},
	"requerimiento":           {Chart: core.OutputTable, PatternType: PatternSimulacion, Blocked: true},
}

func init() {
	for name, st := range SubTypes {
		st.Name = name
		if st.PatternType == "" {
			st.PatternType = PatternComparacion
		}
		if st.Temporality == "" {
			st.Temporality = TemporalityStatic
		}
		SubTypes[name] = st
	}
}

// Lookup returns the shape for name. Unknown names resolve to valor_puntual
// and ok is false.
func Lookup(name string) (SubType, bool) {
	st, ok := SubTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return SubTypes[DefaultSubType], false
	}
	return st, true
}

// Names returns the known sub-type names in order.
func Names() []string {
	names := make([]string, 0, len(SubTypes))
	for name := range SubTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported returns the names of shapes that can be resolved.
func Supported() []string {
	var names []string
	for _, name := range Names() {
		if !SubTypes[name].Blocked {
			names = append(names, name)
		}
	}
	return names
}
