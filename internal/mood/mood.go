// Package mood implements the rule-based mood classifier (spec §4.5): a
// fuzzy rule engine over normalized features, with a pluggable ML backend
// behind the Scorer interface (spec §9, "capability type with two
// variants" -- Heuristic and Model).
package mood

import (
	"math"

	"github.com/loomtrack/engine/internal/contract"
)

// ConfidenceThreshold is the default gate below which the primary mood
// falls back to "neutral".
const ConfidenceThreshold = 0.5

// Features is the normalized-or-raw input the classifier reads. Fields
// marked "raw" are normalized internally per spec §4.5; Mode is passed
// through when it is "major" or "minor" and read as "major" otherwise.
type Features struct {
	BPM              float64 // raw, 60..200
	Loudness         float64 // raw dB, <=0
	SpectralCentroid float64 // raw Hz
	Energy           float64 // already 0..1
	Valence          float64 // already 0..1
	Danceability     float64 // already 0..1
	Mode             string  // "major" | "minor"
}

// Normalized holds the [0,1]-mapped feature vector spec §4.5 evaluates
// rules against.
type Normalized struct {
	BPM              float64
	Loudness         float64
	SpectralCentroid float64
	Energy           float64
	Valence          float64
	Danceability     float64
	Mode             string
}

// Normalize maps raw features onto [0,1] per the formulas in spec §4.5.
func Normalize(f Features) Normalized {
	mode := f.Mode
	if mode != "major" && mode != "minor" {
		mode = "major"
	}
	return Normalized{
		BPM:              contract.Clamp((f.BPM-60)/140, 0, 1),
		Loudness:         contract.Clamp((f.Loudness+60)/60, 0, 1),
		SpectralCentroid: contract.Clamp(f.SpectralCentroid/8000, 0, 1),
		Energy:           contract.Clamp(f.Energy, 0, 1),
		Valence:          contract.Clamp(f.Valence, 0, 1),
		Danceability:     contract.Clamp(f.Danceability, 0, 1),
		Mode:             mode,
	}
}

// Result is the classifier's output: a primary mood, its confidence, and
// the full score vector (summing to ~1, per invariant §8.5).
type Result struct {
	Primary    contract.Mood
	Confidence float64
	Scores     map[contract.Mood]float64
}

// Scorer is the pluggable backend capability (spec §9): RuleEngine is the
// default rule engine; KMeansModel is the optional ML backend.
type Scorer interface {
	// Score returns per-mood scores in [0,1]. The caller (Classify) applies
	// confidence gating and neutral fallback uniformly across backends.
	Score(n Normalized) map[contract.Mood]float64
}

// Classifier evaluates a Scorer and applies the shared gating/neutral
// policy so every backend behaves identically at the boundary.
type Classifier struct {
	Primary             Scorer
	Fallback            Scorer // consulted if Primary fails or is absent
	ConfidenceThreshold float64
}

// NewClassifier builds a classifier with the default rule engine as primary
// and no Fallback set; Classify itself falls back to the rule engine when no
// scorer returns scores. Call WithModel to layer an ML backend on top.
func NewClassifier() *Classifier {
	return &Classifier{
		Primary:             RuleEngine{},
		ConfidenceThreshold: ConfidenceThreshold,
	}
}

// WithModel configures model as the primary scorer, demoting the rule
// engine to fallback. Any panic or scoring failure from model falls back
// to rules without surfacing an error (spec §4.5 "any model failure falls
// back to rules").
func (c *Classifier) WithModel(model Scorer) {
	c.Fallback = c.Primary
	c.Primary = model
}

// Classify runs the configured scorer chain over raw features.
func (c *Classifier) Classify(f Features) (result Result) {
	n := Normalize(f)
	threshold := c.ConfidenceThreshold
	if threshold == 0 {
		threshold = ConfidenceThreshold
	}

	scores := c.tryScore(c.Primary, n)
	if scores == nil && c.Fallback != nil {
		scores = c.tryScore(c.Fallback, n)
	}
	if scores == nil {
		scores = RuleEngine{}.Score(n)
	}

	return gate(scores, threshold)
}

func (c *Classifier) tryScore(s Scorer, n Normalized) (scores map[contract.Mood]float64) {
	if s == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			scores = nil
		}
	}()
	return s.Score(n)
}

// gate picks the primary mood, falling back to neutral below threshold,
// and renormalizes so scores sum to ~1 (spec §8 invariant 5).
func gate(scores map[contract.Mood]float64, threshold float64) Result {
	best := contract.MoodNeutral
	bestScore := -1.0
	for _, m := range contract.Moods {
		if m == contract.MoodNeutral {
			continue
		}
		if s, ok := scores[m]; ok && s > bestScore {
			best = m
			bestScore = s
		}
	}

	out := map[contract.Mood]float64{}
	for k, v := range scores {
		out[k] = v
	}

	if bestScore < threshold {
		out[contract.MoodNeutral] = 1 - math.Max(bestScore, 0)
		return Result{Primary: contract.MoodNeutral, Confidence: 1 - math.Max(bestScore, 0), Scores: normalizeSum(out)}
	}

	out[contract.MoodNeutral] = 1 - bestScore
	return Result{Primary: best, Confidence: bestScore, Scores: normalizeSum(out)}
}

func normalizeSum(scores map[contract.Mood]float64) map[contract.Mood]float64 {
	var total float64
	for _, v := range scores {
		total += v
	}
	if total <= 0 {
		return scores
	}
	out := make(map[contract.Mood]float64, len(scores))
	for k, v := range scores {
		out[k] = v / total
	}
	return out
}
