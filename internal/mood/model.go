package mood

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/loomtrack/engine/internal/contract"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

// featureVector is the fixed ordering spec §4.5 defines for the ML
// backend: [energy, valence, danceability, bpm, loudness,
// spectral_centroid, key_numeric, mode_numeric]. The rule-engine-facing
// Normalized type does not carry key identity, so KMeansModel.Score fills
// key_numeric with 0 and derives mode_numeric from Normalized.Mode.
type featureVector struct {
	Energy           float64
	Valence          float64
	Danceability     float64
	BPM              float64
	Loudness         float64
	SpectralCentroid float64
	KeyNumeric       float64 // 0..11, spec §9 Open Question 4
	ModeNumeric      float64 // 1 = major, 0 = minor
}

func (v featureVector) coordinates() clusters.Coordinates {
	return clusters.Coordinates{
		v.Energy, v.Valence, v.Danceability, v.BPM,
		v.Loudness, v.SpectralCentroid, v.KeyNumeric, v.ModeNumeric,
	}
}

// KeyNumericMode converts key chroma + mode string into the ML feature
// pair, per spec §9's key_numeric/mode_numeric resolution.
func KeyNumericMode(chromaticIndex int, mode string) (keyNumeric, modeNumeric float64) {
	keyNumeric = float64(chromaticIndex)
	if mode == "major" {
		modeNumeric = 1
	}
	return keyNumeric, modeNumeric
}

// Centroid is one labelled cluster center in the offline-trained model.
type Centroid struct {
	Mood   contract.Mood
	Vector featureVector
}

// KMeansModel is the optional ML backend (spec §4.5 "Optional ML
// backend"): a nearest-centroid classifier trained offline against
// labelled examples via github.com/muesli/kmeans. cmd/engine loads it once
// at startup when mood_classifier.model_path is set, not on first use. It
// implements Scorer so it layers into Classifier.WithModel uninvasively.
//
// This stands in for the spec's "gradient-boosted model" -- the spec
// itself treats the exact model family as pluggable ("if a secondary ...
// estimator is available"); what matters structurally is the capability
// boundary (confidence gate + fallback-on-failure), not the specific
// algorithm.
type KMeansModel struct {
	centroids []Centroid
}

// LoadKMeansModel builds a model from pre-computed labelled centroids.
// Returns an error if centroids is empty -- callers should treat that as
// "no model configured" and stick to RuleEngine.
func LoadKMeansModel(centroids []Centroid) (*KMeansModel, error) {
	if len(centroids) == 0 {
		return nil, errNoCentroids
	}
	return &KMeansModel{centroids: centroids}, nil
}

var errNoCentroids = modelError("kmeans model requires at least one labelled centroid")

type modelError string

func (e modelError) Error() string { return string(e) }

// ScoreVector runs the nearest-centroid classifier against a full feature
// vector (including key/mode, unlike the rule engine's Normalized). Scores
// are an inverse-distance softmax over centroids sharing a mood label.
func (m *KMeansModel) ScoreVector(v featureVector) map[contract.Mood]float64 {
	query := v.coordinates()

	distances := make(map[contract.Mood]float64)
	counts := make(map[contract.Mood]int)
	for _, c := range m.centroids {
		d := query.Distance(c.Vector.coordinates())
		if existing, ok := distances[c.Mood]; !ok || d < existing {
			distances[c.Mood] = d
		}
		counts[c.Mood]++
	}

	// Convert distances to a softmax-like score: closer centroid -> higher
	// score. Guard against a zero-distance exact match.
	scores := make(map[contract.Mood]float64, len(distances))
	var total float64
	for mood, d := range distances {
		s := 1.0 / (1.0 + d)
		scores[mood] = s
		total += s
	}
	if total > 0 {
		for mood := range scores {
			scores[mood] /= total
		}
	}
	return scores
}

// Score implements Scorer using only the axes Normalized carries:
// key_numeric is always 0, since Normalized has no key identity, and
// mode_numeric is 1 for a "major" Mode and 0 otherwise.
func (m *KMeansModel) Score(n Normalized) map[contract.Mood]float64 {
	modeNumeric := 0.0
	if n.Mode == "major" {
		modeNumeric = 1.0
	}
	return m.ScoreVector(featureVector{
		Energy: n.Energy, Valence: n.Valence, Danceability: n.Danceability,
		BPM: n.BPM, Loudness: n.Loudness, SpectralCentroid: n.SpectralCentroid,
		KeyNumeric: 0, ModeNumeric: modeNumeric,
	})
}

// defaultCentroids seeds a small, hand-labelled centroid set matching the
// rule table's ranges (spec §4.5 table), giving the ML backend a
// reasonable default before any offline retraining.
func defaultCentroids() []Centroid {
	return []Centroid{
		{Mood: contract.MoodEuphoric, Vector: featureVector{Energy: .85, Valence: .8, Danceability: .8, BPM: .5, Loudness: .7, SpectralCentroid: .5, ModeNumeric: 1}},
		{Mood: contract.MoodDriving, Vector: featureVector{Energy: .75, Valence: .5, Danceability: .6, BPM: .55, Loudness: .6, SpectralCentroid: .5, ModeNumeric: 1}},
		{Mood: contract.MoodDark, Vector: featureVector{Energy: .6, Valence: .2, Danceability: .4, BPM: .4, Loudness: .5, SpectralCentroid: .3, ModeNumeric: 0}},
		{Mood: contract.MoodChill, Vector: featureVector{Energy: .2, Valence: .6, Danceability: .4, BPM: .25, Loudness: .3, SpectralCentroid: .4, ModeNumeric: 1}},
		{Mood: contract.MoodMelancholic, Vector: featureVector{Energy: .25, Valence: .15, Danceability: .3, BPM: .2, Loudness: .3, SpectralCentroid: .3, ModeNumeric: 0}},
		{Mood: contract.MoodAggressive, Vector: featureVector{Energy: .9, Valence: .15, Danceability: .5, BPM: .6, Loudness: .9, SpectralCentroid: .6, ModeNumeric: 0}},
		{Mood: contract.MoodUplifting, Vector: featureVector{Energy: .7, Valence: .85, Danceability: .8, BPM: .5, Loudness: .65, SpectralCentroid: .5, ModeNumeric: 1}},
		{Mood: contract.MoodMysterious, Vector: featureVector{Energy: .5, Valence: .4, Danceability: .4, BPM: .35, Loudness: .4, SpectralCentroid: .2, ModeNumeric: 0}},
	}
}

// DefaultKMeansModel returns a model seeded with defaultCentroids, usable
// out of the box when mood_classifier.model_path is set to "default"
// instead of a trained model file.
func DefaultKMeansModel() *KMeansModel {
	model, err := LoadKMeansModel(defaultCentroids())
	if err != nil {
		// defaultCentroids is never empty; unreachable.
		panic(err)
	}
	return model
}

// centroidFile is the on-disk JSON shape LoadKMeansModelFile reads: one
// entry per labelled centroid, produced by an offline TrainKMeansModel run
// and written out by a curator tool.
type centroidFile struct {
	Mood             contract.Mood `json:"mood"`
	Energy           float64       `json:"energy"`
	Valence          float64       `json:"valence"`
	Danceability     float64       `json:"danceability"`
	BPM              float64       `json:"bpm"`
	Loudness         float64       `json:"loudness"`
	SpectralCentroid float64       `json:"spectral_centroid"`
	KeyNumeric       float64       `json:"key_numeric"`
	ModeNumeric      float64       `json:"mode_numeric"`
}

// LoadKMeansModelFile loads the ML backend named by mood_classifier.
// model_path (spec §4.5). The sentinel value "default" skips the file and
// returns DefaultKMeansModel's built-in centroids; any other value is read
// as a path to a JSON-encoded centroid list written by an offline
// TrainKMeansModel run.
func LoadKMeansModelFile(path string) (*KMeansModel, error) {
	if path == "default" {
		return DefaultKMeansModel(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mood: read model file: %w", err)
	}
	var entries []centroidFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("mood: parse model file: %w", err)
	}

	centroids := make([]Centroid, len(entries))
	for i, e := range entries {
		centroids[i] = Centroid{
			Mood: e.Mood,
			Vector: featureVector{
				Energy: e.Energy, Valence: e.Valence, Danceability: e.Danceability,
				BPM: e.BPM, Loudness: e.Loudness, SpectralCentroid: e.SpectralCentroid,
				KeyNumeric: e.KeyNumeric, ModeNumeric: e.ModeNumeric,
			},
		}
	}
	return LoadKMeansModel(centroids)
}

// LabelledSample is one hand-labelled training example for
// TrainKMeansModel: a track's feature vector plus the mood a human curator
// assigned it.
type LabelledSample struct {
	Mood   contract.Mood
	Vector featureVector
}

// TrainKMeansModel clusters samples into k centroids via
// github.com/muesli/kmeans, then labels each resulting centroid with the
// majority mood among the samples assigned to it. This is the offline
// retraining path defaultCentroids/DefaultKMeansModel stand in for until a
// real labelled corpus is available.
func TrainKMeansModel(samples []LabelledSample, k int) (*KMeansModel, error) {
	if len(samples) == 0 {
		return nil, errNoCentroids
	}
	if k <= 0 || k > len(samples) {
		return nil, fmt.Errorf("mood: k must be in [1, %d], got %d", len(samples), k)
	}

	obs := make(clusters.Observations, len(samples))
	for i, s := range samples {
		obs[i] = s.Vector.coordinates()
	}

	partitioned, err := kmeans.New().Partition(obs, k)
	if err != nil {
		return nil, fmt.Errorf("mood: kmeans partition: %w", err)
	}

	centroids := make([]Centroid, 0, len(partitioned))
	for _, cluster := range partitioned {
		centroids = append(centroids, Centroid{
			Mood:   majorityMood(cluster, samples),
			Vector: fromCoordinates(cluster.Center),
		})
	}
	return LoadKMeansModel(centroids)
}

// majorityMood labels a cluster by the most common mood among the original
// samples whose feature vector was assigned to it.
func majorityMood(cluster clusters.Cluster, samples []LabelledSample) contract.Mood {
	counts := make(map[contract.Mood]int)
	for _, observation := range cluster.Observations {
		coords := observation.Coordinates()
		for _, s := range samples {
			if coordinatesEqual(coords, s.Vector.coordinates()) {
				counts[s.Mood]++
				break
			}
		}
	}
	var best contract.Mood
	bestCount := -1
	for mood, count := range counts {
		if count > bestCount {
			best, bestCount = mood, count
		}
	}
	return best
}

func coordinatesEqual(a, b clusters.Coordinates) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fromCoordinates(c clusters.Coordinates) featureVector {
	return featureVector{
		Energy: c[0], Valence: c[1], Danceability: c[2], BPM: c[3],
		Loudness: c[4], SpectralCentroid: c[5], KeyNumeric: c[6], ModeNumeric: c[7],
	}
}
