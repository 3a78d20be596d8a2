// Package playlist implements PlaylistOptimizer: preset- and rule-driven
// track sequencing over the algorithm family spec §4.7 names (harmonic/
// key_progression, energy_flow, mood_progression, bpm_transition,
// hybrid_smart, custom), duration trimming, and metadata aggregation.
// Grounded on the teacher's internal/planner/planner.go (greedy
// nearest-neighbour ordering, chooseStart/bestNext shape), generalized
// from the teacher's single BPM-anchored strategy to the full algorithm
// family and rendered against harmony.Score instead of the teacher's
// duplicated key-compatibility helpers.
package playlist

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomtrack/engine/internal/contract"
	"github.com/loomtrack/engine/internal/harmony"
)

// Algorithm is the closed set of sequencing strategies spec §4.7 names.
type Algorithm string

const (
	AlgoHarmonic        Algorithm = "harmonic"
	AlgoKeyProgression  Algorithm = "key_progression" // alias of harmonic
	AlgoEnergyFlow      Algorithm = "energy_flow"
	AlgoMoodProgression Algorithm = "mood_progression"
	AlgoBPMTransition   Algorithm = "bpm_transition"
	AlgoHybridSmart     Algorithm = "hybrid_smart"
	AlgoCustom          Algorithm = "custom"
)

// Rule is one weighted, optionally-enabled shaping directive within a
// preset or supplied ad hoc as custom_rules.
type Rule struct {
	Name        string
	Description string
	Weight      float64
	Enabled     bool
	Parameters  map[string]any
}

// Preset bundles an algorithm with its rule set and target shape.
type Preset struct {
	Name                  string
	Description           string
	Algorithm             Algorithm
	Rules                 []Rule
	TargetDurationMinutes float64
	EnergyCurve           string
	MoodFlow              string
}

// Track is one candidate for sequencing: a track's identity, duration, and
// its analyzed features.
type Track struct {
	FilePath  string
	Title     string
	Artist    string
	DurationS float64
	Features  contract.GlobalFeatures
}

// Metadata aggregates the resulting playlist's statistics (spec §4.7
// "Metadata aggregation").
type Metadata struct {
	TotalTracks       int
	TotalDurationS    float64
	AverageBPM        float64
	AverageEnergy     float64
	BPMMin            float64
	BPMMax            float64
	KeyDistribution   map[string]int
	MoodDistribution  map[contract.Mood]int
	EnergyProgression []float64
	PresetName        string
}

// Playlist is the optimizer's transient output.
type Playlist struct {
	Tracks   []Track
	Metadata Metadata
}

// DefaultPresets is the built-in preset catalogue, keyed by name.
var DefaultPresets = map[string]Preset{
	"harmonic_journey": {
		Name: "harmonic_journey", Algorithm: AlgoHarmonic,
		Description: "Greedy harmonic-wheel nearest neighbour sequencing.",
		Rules:       []Rule{{Name: "key_compatibility", Weight: 1.0, Enabled: true}},
	},
	"energy_build": {
		Name: "energy_build", Algorithm: AlgoEnergyFlow, EnergyCurve: "gradual_build",
		Description: "Ascending energy progression.",
		Rules:       []Rule{{Name: "energy progression", Weight: 1.0, Enabled: true}},
	},
	"mood_coherent": {
		Name: "mood_coherent", Algorithm: AlgoMoodProgression, MoodFlow: "coherent",
		Description: "Groups by mood, dominant mood first.",
		Rules:       []Rule{{Name: "coherent", Weight: 1.0, Enabled: true}},
	},
	"gradual_bpm": {
		Name: "gradual_bpm", Algorithm: AlgoBPMTransition,
		Description: "Ascending BPM transition.",
		Rules:       []Rule{{Name: "gradual increase", Weight: 1.0, Enabled: true}},
	},
	"hybrid_smart": {
		Name: "hybrid_smart", Algorithm: AlgoHybridSmart,
		Description: "Weighted multi-axis scoring across harmony/energy/danceability/valence.",
	},
	"custom_filters": {
		Name: "custom_filters", Algorithm: AlgoCustom,
		Description: "Applies the supplied rule-based filters (high_energy_filter, bpm_range_filter) in order, with no reordering beyond the shared tie-break sort.",
	},
}

// CreatePlaylist sequences tracks per presetName, trims to
// targetDurationMin if positive, and computes aggregate metadata. Non-empty
// customRules replace the preset's own rules. An unregistered presetName
// runs the custom algorithm when customRules is non-empty and hybrid_smart
// otherwise.
func CreatePlaylist(tracks []Track, presetName string, customRules []Rule, targetDurationMin float64) (*Playlist, error) {
	prepared := prepare(tracks)
	if len(prepared) < 3 {
		return nil, fmt.Errorf("playlist: need at least 3 tracks with feature records, got %d", len(prepared))
	}

	preset, ok := DefaultPresets[presetName]
	if !ok {
		// An unregistered name with ad hoc rules attached is read as a request
		// to run those rules as custom filters rather than silently ignoring
		// them under hybrid_smart scoring.
		algo := AlgoHybridSmart
		if len(customRules) > 0 {
			algo = AlgoCustom
		}
		preset = Preset{Name: presetName, Algorithm: algo}
	}
	rules := preset.Rules
	if len(customRules) > 0 {
		rules = customRules
	}

	var ordered []Track
	switch preset.Algorithm {
	case AlgoHarmonic, AlgoKeyProgression:
		ordered = sequenceHarmonic(prepared)
	case AlgoEnergyFlow:
		ordered = sequenceEnergyFlow(prepared, rules)
	case AlgoMoodProgression:
		ordered = sequenceMoodProgression(prepared, rules)
	case AlgoBPMTransition:
		ordered = sequenceBPMTransition(prepared, rules)
	case AlgoCustom:
		ordered = sequenceCustom(prepared, rules)
	default:
		ordered = sequenceHybridSmart(prepared, rules)
	}

	targetMin := targetDurationMin
	if targetMin == 0 {
		targetMin = preset.TargetDurationMinutes
	}
	if targetMin > 0 {
		ordered = trimToDuration(ordered, targetMin*60)
	}

	return &Playlist{Tracks: ordered, Metadata: aggregate(ordered, preset.Name)}, nil
}

// prepare drops tracks lacking a feature record (zero-value BPM with no
// key name is treated as "no feature record") and normalizes ranges.
func prepare(tracks []Track) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Features.KeyName == "" && t.Features.BPM == 0 {
			continue
		}
		t.Features.BPM = contract.Clamp(t.Features.BPM, 60, 200)
		t.Features.Energy = contract.Clamp(t.Features.Energy, 0, 1)
		t.Features.Valence = contract.Clamp(t.Features.Valence, 0, 1)
		t.Features.Danceability = contract.Clamp(t.Features.Danceability, 0, 1)
		if t.Features.Mode != "major" && t.Features.Mode != "minor" {
			t.Features.Mode = "major"
		}
		out = append(out, t)
	}
	return out
}

// lessTieBreak is the shared determinism rule (spec §4.7): ties break by
// ascending bpm then ascending file_path.
func lessTieBreak(a, b Track) bool {
	if a.Features.BPM != b.Features.BPM {
		return a.Features.BPM < b.Features.BPM
	}
	return a.FilePath < b.FilePath
}

// sequenceHarmonic greedily walks the harmony wheel: start from the track
// with the best average compatibility to all others, then repeatedly
// append the remaining track maximizing harmony.Score, broken by smallest
// |Δbpm| and finally the shared tie-break.
func sequenceHarmonic(tracks []Track) []Track {
	remaining := append([]Track(nil), tracks...)
	sort.SliceStable(remaining, func(i, j int) bool { return lessTieBreak(remaining[i], remaining[j]) })

	startIdx := bestAnchor(remaining)
	order := []Track{remaining[startIdx]}
	remaining = append(remaining[:startIdx], remaining[startIdx+1:]...)

	for len(remaining) > 0 {
		current := order[len(order)-1]
		bestIdx := -1
		bestScore := -1.0
		bestBPMDelta := 0.0
		for i, cand := range remaining {
			score := harmony.Score(current.Features.Camelot, cand.Features.Camelot)
			delta := absFloat(current.Features.BPM - cand.Features.BPM)
			if bestIdx == -1 || score > bestScore ||
				(score == bestScore && delta < bestBPMDelta) ||
				(score == bestScore && delta == bestBPMDelta && lessTieBreak(cand, remaining[bestIdx])) {
				bestIdx, bestScore, bestBPMDelta = i, score, delta
			}
		}
		order = append(order, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return order
}

func bestAnchor(tracks []Track) int {
	bestIdx := 0
	bestAvg := -1.0
	for i, t := range tracks {
		var sum float64
		for j, other := range tracks {
			if i == j {
				continue
			}
			sum += harmony.Score(t.Features.Camelot, other.Features.Camelot)
		}
		avg := sum / float64(len(tracks)-1)
		if avg > bestAvg {
			bestIdx, bestAvg = i, avg
		}
	}
	return bestIdx
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// sequenceEnergyFlow sorts ascending by energy if a rule names
// "progression"; otherwise buckets by energy tier and concatenates
// low->mid->high, sorted ascending within each bucket.
func sequenceEnergyFlow(tracks []Track, rules []Rule) []Track {
	out := append([]Track(nil), tracks...)
	if hasEnabledRuleContaining(rules, "progression") {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Features.Energy != out[j].Features.Energy {
				return out[i].Features.Energy < out[j].Features.Energy
			}
			return lessTieBreak(out[i], out[j])
		})
		return out
	}

	var low, mid, high []Track
	for _, t := range out {
		switch {
		case t.Features.Energy < 0.4:
			low = append(low, t)
		case t.Features.Energy < 0.7:
			mid = append(mid, t)
		default:
			high = append(high, t)
		}
	}
	sortByEnergyAsc(low)
	sortByEnergyAsc(mid)
	sortByEnergyAsc(high)
	return append(append(low, mid...), high...)
}

func sortByEnergyAsc(tracks []Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		if tracks[i].Features.Energy != tracks[j].Features.Energy {
			return tracks[i].Features.Energy < tracks[j].Features.Energy
		}
		return lessTieBreak(tracks[i], tracks[j])
	})
}

// canonicalMoodOrder returns the ordered list of moods a mood_progression
// rule set requests.
func canonicalMoodOrder(rules []Rule) []contract.Mood {
	switch {
	case hasEnabledRuleContaining(rules, "uplifting"):
		return []contract.Mood{contract.MoodMelancholic, contract.MoodChill, contract.MoodEuphoric, contract.MoodUplifting, contract.MoodDriving}
	default:
		return []contract.Mood{contract.MoodChill, contract.MoodUplifting, contract.MoodDriving}
	}
}

// sequenceMoodProgression groups tracks by estimated mood and emits groups
// in canonical order (or dominant-mood-first for a "coherent" rule),
// appending any unmatched moods afterwards.
func sequenceMoodProgression(tracks []Track, rules []Rule) []Track {
	groups := map[contract.Mood][]Track{}
	for _, t := range tracks {
		groups[t.Features.PrimaryMood] = append(groups[t.Features.PrimaryMood], t)
	}
	for mood := range groups {
		sort.SliceStable(groups[mood], func(i, j int) bool { return lessTieBreak(groups[mood][i], groups[mood][j]) })
	}

	order := canonicalMoodOrder(rules)
	if hasEnabledRuleContaining(rules, "coherent") {
		order = append([]contract.Mood{dominantMood(groups)}, order...)
	}

	var out []Track
	seen := map[contract.Mood]bool{}
	for _, m := range order {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, groups[m]...)
	}
	// append unmatched moods in a stable, deterministic order
	var remaining []contract.Mood
	for _, m := range contract.Moods {
		if !seen[m] {
			remaining = append(remaining, m)
		}
	}
	for _, m := range remaining {
		out = append(out, groups[m]...)
	}
	return out
}

func dominantMood(groups map[contract.Mood][]Track) contract.Mood {
	best := contract.MoodNeutral
	bestCount := -1
	for _, m := range contract.Moods { // deterministic iteration order
		if len(groups[m]) > bestCount {
			best, bestCount = m, len(groups[m])
		}
	}
	return best
}

// sequenceBPMTransition sorts ascending for a "gradual increase" rule,
// buckets into 10-BPM strata concatenated ascending for a "stability"
// rule, or otherwise seeds at the median BPM and greedily walks to the
// nearest remaining BPM.
func sequenceBPMTransition(tracks []Track, rules []Rule) []Track {
	out := append([]Track(nil), tracks...)
	switch {
	case hasEnabledRuleContaining(rules, "gradual increase"):
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Features.BPM != out[j].Features.BPM {
				return out[i].Features.BPM < out[j].Features.BPM
			}
			return lessTieBreak(out[i], out[j])
		})
		return out
	case hasEnabledRuleContaining(rules, "stability"):
		buckets := map[int][]Track{}
		for _, t := range out {
			buckets[int(t.Features.BPM)/10] = append(buckets[int(t.Features.BPM)/10], t)
		}
		var keys []int
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		var result []Track
		for _, k := range keys {
			b := buckets[k]
			sort.SliceStable(b, func(i, j int) bool { return lessTieBreak(b[i], b[j]) })
			result = append(result, b...)
		}
		return result
	default:
		return greedyBPMWalk(out)
	}
}

func greedyBPMWalk(tracks []Track) []Track {
	sorted := append([]Track(nil), tracks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Features.BPM != sorted[j].Features.BPM {
			return sorted[i].Features.BPM < sorted[j].Features.BPM
		}
		return lessTieBreak(sorted[i], sorted[j])
	})
	medianIdx := len(sorted) / 2

	remaining := append([]Track(nil), sorted...)
	anchor := remaining[medianIdx]
	remaining = append(remaining[:medianIdx], remaining[medianIdx+1:]...)

	order := []Track{anchor}
	for len(remaining) > 0 {
		current := order[len(order)-1]
		bestIdx := 0
		bestDelta := absFloat(current.Features.BPM - remaining[0].Features.BPM)
		for i := 1; i < len(remaining); i++ {
			delta := absFloat(current.Features.BPM - remaining[i].Features.BPM)
			if delta < bestDelta || (delta == bestDelta && lessTieBreak(remaining[i], remaining[bestIdx])) {
				bestIdx, bestDelta = i, delta
			}
		}
		order = append(order, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return order
}

// sequenceHybridSmart scores each track against the candidate set across
// harmonic/energy/danceability/valence axes with the base weights spec
// §4.7 names, adjusted by any enabled rule naming an axis, then sorts
// descending by total score.
func sequenceHybridSmart(tracks []Track, rules []Rule) []Track {
	weights := map[string]float64{"harmonic": 0.30, "energy": 0.25, "danceability": 0.25, "valence": 0.20}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		for axis := range weights {
			if strings.Contains(strings.ToLower(r.Name), axis) {
				weights[axis] = contract.Clamp(weights[axis]+0.1*r.Weight, 0, 1)
			}
		}
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for axis := range weights {
			weights[axis] /= total
		}
	}

	type scored struct {
		track Track
		score float64
	}
	results := make([]scored, len(tracks))
	for i, t := range tracks {
		var harmonicSum float64
		for j, other := range tracks {
			if i == j {
				continue
			}
			harmonicSum += harmony.Score(t.Features.Camelot, other.Features.Camelot)
		}
		harmonicMean := 0.0
		if len(tracks) > 1 {
			harmonicMean = harmonicSum / float64(len(tracks)-1)
		}
		score := weights["harmonic"]*harmonicMean +
			weights["energy"]*t.Features.Energy +
			weights["danceability"]*t.Features.Danceability +
			weights["valence"]*t.Features.Valence
		results[i] = scored{track: t, score: score}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return lessTieBreak(results[i].track, results[j].track)
	})

	out := make([]Track, len(results))
	for i, r := range results {
		out[i] = r.track
	}
	return out
}

// sequenceCustom applies enabled rules in order as filters; unrecognized
// rule names are ignored (extensible by rule name per spec §4.7).
func sequenceCustom(tracks []Track, rules []Rule) []Track {
	out := append([]Track(nil), tracks...)
	sort.SliceStable(out, func(i, j int) bool { return lessTieBreak(out[i], out[j]) })

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch r.Name {
		case "high_energy_filter":
			minEnergy := floatParam(r.Parameters, "min_energy", 0)
			out = filterTracks(out, func(t Track) bool { return t.Features.Energy >= minEnergy })
		case "bpm_range_filter":
			minBPM := floatParam(r.Parameters, "min_bpm", 0)
			maxBPM := floatParam(r.Parameters, "max_bpm", 200)
			out = filterTracks(out, func(t Track) bool { return t.Features.BPM >= minBPM && t.Features.BPM <= maxBPM })
		}
	}
	return out
}

func filterTracks(tracks []Track, keep func(Track) bool) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}

func hasEnabledRuleContaining(rules []Rule, substr string) bool {
	for _, r := range rules {
		if r.Enabled && strings.Contains(strings.ToLower(r.Name), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

// trimToDuration accumulates tracks in order until the running total
// exceeds targetSeconds, admitting one more track if it still fits within
// a 30-second tolerance (spec §4.7 "Duration trimming").
func trimToDuration(tracks []Track, targetSeconds float64) []Track {
	var out []Track
	var total float64
	for _, t := range tracks {
		if total+t.DurationS <= targetSeconds+30 {
			out = append(out, t)
			total += t.DurationS
		}
		if total >= targetSeconds {
			break
		}
	}
	return out
}

func aggregate(tracks []Track, presetName string) Metadata {
	md := Metadata{
		TotalTracks:      len(tracks),
		KeyDistribution:  map[string]int{},
		MoodDistribution: map[contract.Mood]int{},
		PresetName:       presetName,
	}
	if len(tracks) == 0 {
		return md
	}

	md.BPMMin = tracks[0].Features.BPM
	md.BPMMax = tracks[0].Features.BPM
	var bpmSum, energySum float64

	for _, t := range tracks {
		md.TotalDurationS += t.DurationS
		bpmSum += t.Features.BPM
		energySum += t.Features.Energy
		if t.Features.BPM < md.BPMMin {
			md.BPMMin = t.Features.BPM
		}
		if t.Features.BPM > md.BPMMax {
			md.BPMMax = t.Features.BPM
		}
		md.KeyDistribution[t.Features.Camelot]++
		md.MoodDistribution[t.Features.PrimaryMood]++
		md.EnergyProgression = append(md.EnergyProgression, t.Features.Energy)
	}

	md.AverageBPM = bpmSum / float64(len(tracks))
	md.AverageEnergy = energySum / float64(len(tracks))
	return md
}
