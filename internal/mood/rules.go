package mood

import (
	"strings"

	"github.com/loomtrack/engine/internal/contract"
)

// condKind enumerates the condition operators from spec §4.5.
type condKind int

const (
	condRange condKind = iota
	condFuzzyHigh
	condFuzzyLow
	condEquals
	condGreater
	condLess
)

// axis identifies which normalized feature a condition reads.
type axis int

const (
	axisBPM axis = iota
	axisLoudness
	axisSpectralCentroid
	axisEnergy
	axisValence
	axisDanceability
	axisMode
)

type condition struct {
	axis axis
	kind condKind
	lo   float64 // range lo / equals numeric value
	hi   float64 // range hi
	t    float64 // fuzzy_high/fuzzy_low threshold, or >/< threshold
	str  string  // equals string value (mode)
}

func (c condition) value(n Normalized) float64 {
	switch c.axis {
	case axisBPM:
		return n.BPM
	case axisLoudness:
		return n.Loudness
	case axisSpectralCentroid:
		return n.SpectralCentroid
	case axisEnergy:
		return n.Energy
	case axisValence:
		return n.Valence
	case axisDanceability:
		return n.Danceability
	default:
		return 0
	}
}

// score computes the membership score in [0,1] for this condition against
// the normalized feature vector, per spec §4.5's operator semantics.
func (c condition) score(n Normalized) float64 {
	if c.axis == axisMode {
		if strings.EqualFold(n.Mode, c.str) {
			return 1
		}
		return 0
	}

	v := c.value(n)

	switch c.kind {
	case condRange:
		return rangeMembership(v, c.lo, c.hi)
	case condFuzzyHigh:
		return fuzzyHigh(v, c.t)
	case condFuzzyLow:
		return fuzzyLow(v, c.t)
	case condEquals:
		if absf(v-c.lo) <= 0.1 {
			return 1
		}
		return 0
	case condGreater:
		if v > c.t {
			return 1
		}
		return 0
	case condLess:
		if v < c.t {
			return 1
		}
		return 0
	default:
		return 0
	}
}

const fuzzyMargin = 0.2

// rangeMembership returns 1 inside [lo,hi], with a linear fall-off of
// fuzzyMargin on either side, 0 beyond that.
func rangeMembership(v, lo, hi float64) float64 {
	if v >= lo && v <= hi {
		return 1
	}
	if v < lo {
		if v < lo-fuzzyMargin {
			return 0
		}
		return (v - (lo - fuzzyMargin)) / fuzzyMargin
	}
	if v > hi+fuzzyMargin {
		return 0
	}
	return ((hi + fuzzyMargin) - v) / fuzzyMargin
}

// fuzzyHigh ramps linearly over [t-margin, t] up to 1, clamped beyond t.
func fuzzyHigh(v, t float64) float64 {
	lo := t - fuzzyMargin
	if v <= lo {
		return 0
	}
	if v >= t {
		return 1
	}
	return (v - lo) / fuzzyMargin
}

// fuzzyLow mirrors fuzzyHigh: 1 below t, ramping down to 0 at t+margin.
func fuzzyLow(v, t float64) float64 {
	hi := t + fuzzyMargin
	if v >= hi {
		return 0
	}
	if v <= t {
		return 1
	}
	return (hi - v) / fuzzyMargin
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// rule is a conjunction of conditions; its score is the min across
// conditions (AND semantics), and it carries a weight used when a mood has
// more than one rule.
type rule struct {
	conditions []condition
	weight     float64
}

func (r rule) score(n Normalized) float64 {
	if len(r.conditions) == 0 {
		return 0
	}
	min := 1.0
	for _, c := range r.conditions {
		s := c.score(n)
		if s < min {
			min = s
		}
	}
	return min
}

// RuleEngine is the default Scorer: the fuzzy rule table from spec §4.5.
type RuleEngine struct{}

var defaultRules = map[contract.Mood][]rule{
	contract.MoodEuphoric: {{weight: 1, conditions: []condition{
		{axis: axisEnergy, kind: condRange, lo: .7, hi: 1},
		{axis: axisValence, kind: condRange, lo: .6, hi: 1},
		{axis: axisDanceability, kind: condRange, lo: .6, hi: 1},
	}}},
	contract.MoodDriving: {{weight: 1, conditions: []condition{
		{axis: axisEnergy, kind: condRange, lo: .6, hi: .9},
		{axis: axisValence, kind: condRange, lo: .3, hi: .7},
		{axis: axisBPM, kind: condRange, lo: bpmNorm(110), hi: bpmNorm(140)},
	}}},
	contract.MoodDark: {{weight: 1, conditions: []condition{
		{axis: axisValence, kind: condRange, lo: 0, hi: .4},
		{axis: axisEnergy, kind: condRange, lo: .4, hi: .8},
		{axis: axisMode, kind: condEquals, str: "minor"},
	}}},
	contract.MoodChill: {{weight: 1, conditions: []condition{
		{axis: axisEnergy, kind: condRange, lo: 0, hi: .4},
		{axis: axisValence, kind: condRange, lo: .4, hi: .8},
		{axis: axisBPM, kind: condRange, lo: bpmNorm(60), hi: bpmNorm(110)},
	}}},
	contract.MoodMelancholic: {{weight: 1, conditions: []condition{
		{axis: axisValence, kind: condRange, lo: 0, hi: .3},
		{axis: axisEnergy, kind: condRange, lo: 0, hi: .5},
		{axis: axisMode, kind: condEquals, str: "minor"},
	}}},
	contract.MoodAggressive: {{weight: 1, conditions: []condition{
		{axis: axisEnergy, kind: condRange, lo: .7, hi: 1},
		{axis: axisValence, kind: condRange, lo: 0, hi: .3},
		{axis: axisLoudness, kind: condRange, lo: loudnessNorm(-5), hi: loudnessNorm(0)},
	}}},
	contract.MoodUplifting: {{weight: 1, conditions: []condition{
		{axis: axisValence, kind: condRange, lo: .7, hi: 1},
		{axis: axisEnergy, kind: condRange, lo: .5, hi: .9},
		{axis: axisDanceability, kind: condRange, lo: .6, hi: 1},
	}}},
	contract.MoodMysterious: {{weight: 1, conditions: []condition{
		{axis: axisValence, kind: condRange, lo: .2, hi: .6},
		{axis: axisEnergy, kind: condRange, lo: .3, hi: .7},
		{axis: axisSpectralCentroid, kind: condRange, lo: 0, hi: .5},
	}}},
}

// bpmNorm/loudnessNorm convert the table's raw-unit thresholds (spec §4.5
// writes them as "bpm∈[110,140]→normalized") into the [0,1] domain the
// rule conditions operate in, using the same formulas as Normalize.
func bpmNorm(bpm float64) float64 { return contract.Clamp((bpm-60)/140, 0, 1) }
func loudnessNorm(db float64) float64 {
	return contract.Clamp((db+60)/60, 0, 1)
}

// Score implements Scorer: weighted mean of each mood's rule scores.
func (RuleEngine) Score(n Normalized) map[contract.Mood]float64 {
	scores := make(map[contract.Mood]float64, len(defaultRules))
	for mood, rules := range defaultRules {
		var sum, weight float64
		for _, r := range rules {
			sum += r.score(n) * r.weight
			weight += r.weight
		}
		if weight > 0 {
			scores[mood] = sum / weight
		}
	}
	return scores
}
