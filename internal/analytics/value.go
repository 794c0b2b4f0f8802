package analytics

import "math"

// Source tells consumers whether a figure was measured from events or is a
// synthetic placeholder.
type Source string

const (
	SourceMeasured  Source = "measured"
	SourceEstimated Source = "estimated"
)

// Value is a tagged numeric figure.
type Value struct {
	Value  float64 `json:"value"`
	Source Source  `json:"source"`
}

// Measured tags v as derived from buffered events.
func Measured(v float64) Value { return Value{Value: finite(v), Source: SourceMeasured} }

// Estimated tags v as a heuristic or placeholder.
func Estimated(v float64) Value { return Value{Value: finite(v), Source: SourceEstimated} }

// IsEstimated reports whether the value is synthetic.
func (v Value) IsEstimated() bool { return v.Source == SourceEstimated }

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return finite(math.Round(v*p) / p)
}

// percent returns num/den*100 rounded to places, or 0 when den is 0.
func percent(num, den float64, places int) float64 {
	if den == 0 {
		return 0
	}
	return round(num/den*100, places)
}
