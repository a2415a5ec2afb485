package hooks

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Point is one (x, y) observation for relationship analysis.
type Point struct {
	X     any
	Y     any
	Label string
}

// TrendLine holds the regression line endpoints over the observed x range.
type TrendLine struct {
	XStart float64 `json:"x_start"`
	YStart float64 `json:"y_start"`
	XEnd   float64 `json:"x_end"`
	YEnd   float64 `json:"y_end"`
}

// Outlier is a point whose standardized residual exceeds 2.
type Outlier struct {
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Deviation float64 `json:"deviation"`
}

// RelationshipStats summarizes the correlation between two metrics.
type RelationshipStats struct {
	N              int        `json:"n"`
	R              *float64   `json:"r,omitempty"`
	R2             *float64   `json:"r2,omitempty"`
	Direction      string     `json:"direction,omitempty"`
	Strength       string     `json:"strength,omitempty"`
	Slope          *float64   `json:"slope,omitempty"`
	Intercept      *float64   `json:"intercept,omitempty"`
	TrendLine      *TrendLine `json:"trend_line,omitempty"`
	Outliers       []Outlier  `json:"outliers,omitempty"`
	Interpretation string     `json:"interpretation,omitempty"`
	Warning        string     `json:"warning,omitempty"`
}

// ClassifyStrength buckets |r|.
func ClassifyStrength(r float64) string {
	a := math.Abs(r)
	switch {
	case a > 0.9:
		return "muy fuerte"
	case a > 0.7:
		return "fuerte"
	case a > 0.4:
		return "moderada"
	default:
		return "debil"
	}
}

// ClassifyDirection returns the sign of r as a word.
func ClassifyDirection(r float64) string {
	switch {
	case r > 0:
		return "positiva"
	case r < 0:
		return "negativa"
	default:
		return "nula"
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr(v float64) *float64 { return &v }

// ComputeRelationshipStats computes Pearson r, a least-squares trend line and
// residual outliers. Degenerate inputs produce a Warning instead of numbers.
func ComputeRelationshipStats(points []Point) RelationshipStats {
	n := len(points)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		x, okx := ToFloat(p.X)
		y, oky := ToFloat(p.Y)
		if !okx || !oky {
			return RelationshipStats{N: n, Warning: fmt.Sprintf("Valores no numericos en los datos (punto %d)", i)}
		}
		xs[i], ys[i] = x, y
	}

	if n < 3 {
		return RelationshipStats{N: n, Warning: fmt.Sprintf("Solo %d observaciones. Se necesitan al menos 3 para analisis de correlacion.", n)}
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return RelationshipStats{N: n, Warning: "No se pudo calcular correlacion (varianza cero en una o ambas variables)."}
	}
	r2 := r * r
	direction, strength := ClassifyDirection(r), ClassifyStrength(r)

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return RelationshipStats{
			N: n, R: ptr(round(r, 4)), R2: ptr(round(r2, 4)),
			Direction: direction, Strength: strength,
			Warning: "No se pudo ajustar regresion lineal (valores constantes).",
		}
	}

	residuals := make([]float64, n)
	for i := range xs {
		residuals[i] = ys[i] - (slope*xs[i] + intercept)
	}
	stdRes := popStdDev(residuals)

	var outliers []Outlier
	if stdRes > 1e-10 {
		for i, p := range points {
			dev := residuals[i] / stdRes
			if math.Abs(dev) > 2 {
				label := p.Label
				if label == "" {
					label = fmt.Sprintf("punto_%d", i)
				}
				outliers = append(outliers, Outlier{Label: label, X: xs[i], Y: ys[i], Deviation: round(dev, 2)})
			}
		}
	}

	xMin, xMax := xs[0], xs[0]
	for _, x := range xs[1:] {
		xMin = math.Min(xMin, x)
		xMax = math.Max(xMax, x)
	}

	s := RelationshipStats{
		N:         n,
		R:         ptr(round(r, 4)),
		R2:        ptr(round(r2, 4)),
		Direction: direction,
		Strength:  strength,
		Slope:     ptr(round(slope, 6)),
		Intercept: ptr(round(intercept, 4)),
		TrendLine: &TrendLine{
			XStart: round(xMin, 4),
			YStart: round(slope*xMin+intercept, 4),
			XEnd:   round(xMax, 4),
			YEnd:   round(slope*xMax+intercept, 4),
		},
		Outliers: outliers,
		Interpretation: fmt.Sprintf("R² = %.4f: el %.1f%% de la variabilidad en Y se explica por X. Correlacion %s %s (r = %.4f).",
			r2, r2*100, direction, strength, r),
	}
	if n < 30 {
		s.Warning = fmt.Sprintf("Solo %d observaciones. Para mayor confiabilidad estadistica, considere analizar un periodo mas amplio.", n)
	}
	return s
}

// popStdDev is the population (ddof=0) standard deviation.
func popStdDev(xs []float64) float64 {
	mean := stat.Mean(xs, nil)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
