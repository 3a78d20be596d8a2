package mood

import (
	"os"
	"testing"

	"github.com/loomtrack/engine/internal/contract"
)

func sumScores(scores map[contract.Mood]float64) float64 {
	var total float64
	for _, v := range scores {
		total += v
	}
	return total
}

func TestClassifyEuphoric(t *testing.T) {
	c := NewClassifier()
	result := c.Classify(Features{
		BPM: 128, Loudness: -6, SpectralCentroid: 3000,
		Energy: .9, Valence: .85, Danceability: .85, Mode: "major",
	})
	if result.Primary != contract.MoodEuphoric {
		t.Fatalf("expected euphoric, got %s (scores=%v)", result.Primary, result.Scores)
	}
	if result.Confidence < ConfidenceThreshold {
		t.Fatalf("expected confidence >= threshold, got %v", result.Confidence)
	}
}

func TestClassifyBelowThresholdFallsBackToNeutral(t *testing.T) {
	c := NewClassifier()
	result := c.Classify(Features{
		BPM: 170, Loudness: -30, SpectralCentroid: 6000,
		Energy: .5, Valence: .5, Danceability: .5, Mode: "major",
	})
	if result.Primary != contract.MoodNeutral {
		t.Fatalf("expected neutral fallback, got %s (scores=%v)", result.Primary, result.Scores)
	}
}

func TestClassifyScoresSumToOne(t *testing.T) {
	c := NewClassifier()
	result := c.Classify(Features{
		BPM: 90, Loudness: -12, SpectralCentroid: 2200,
		Energy: .3, Valence: .2, Danceability: .3, Mode: "minor",
	})
	if total := sumScores(result.Scores); total < 0.99 || total > 1.01 {
		t.Fatalf("expected scores to sum to ~1, got %v", total)
	}
}

func TestWithModelFallsBackOnPanic(t *testing.T) {
	c := NewClassifier()
	c.WithModel(panicScorer{})

	result := c.Classify(Features{
		BPM: 128, Loudness: -6, SpectralCentroid: 3000,
		Energy: .9, Valence: .85, Danceability: .85, Mode: "major",
	})
	if result.Primary != contract.MoodEuphoric {
		t.Fatalf("expected fallback to rule engine result, got %s", result.Primary)
	}
}

type panicScorer struct{}

func (panicScorer) Score(Normalized) map[contract.Mood]float64 {
	panic("model unavailable")
}

func TestNormalizeClampsOutOfRange(t *testing.T) {
	n := Normalize(Features{BPM: 400, Loudness: 10, SpectralCentroid: -500, Energy: 2, Valence: -1, Danceability: 5, Mode: "weird"})
	if n.BPM != 1 || n.Loudness != 1 || n.SpectralCentroid != 0 {
		t.Fatalf("expected out-of-range raw values clamped, got %+v", n)
	}
	if n.Energy != 1 || n.Valence != 0 || n.Danceability != 1 {
		t.Fatalf("expected [0,1] features clamped, got %+v", n)
	}
	if n.Mode != "major" {
		t.Fatalf("expected unknown mode to default to major, got %s", n.Mode)
	}
}

func TestKMeansModelNearestCentroid(t *testing.T) {
	model := DefaultKMeansModel()
	scores := model.ScoreVector(featureVector{
		Energy: .9, Valence: .8, Danceability: .8, BPM: .5,
		Loudness: .7, SpectralCentroid: .5, ModeNumeric: 1,
	})
	best := contract.MoodNeutral
	bestScore := -1.0
	for m, s := range scores {
		if s > bestScore {
			best, bestScore = m, s
		}
	}
	if best != contract.MoodEuphoric {
		t.Fatalf("expected euphoric centroid to win, got %s (scores=%v)", best, scores)
	}
}

func TestLoadKMeansModelRejectsEmpty(t *testing.T) {
	if _, err := LoadKMeansModel(nil); err == nil {
		t.Fatal("expected error for empty centroid set")
	}
}

func TestTrainKMeansModelClustersByLabel(t *testing.T) {
	samples := []LabelledSample{
		{Mood: contract.MoodChill, Vector: featureVector{Energy: .15, Valence: .6, Danceability: .3, BPM: .2, Loudness: .3, SpectralCentroid: .4, ModeNumeric: 1}},
		{Mood: contract.MoodChill, Vector: featureVector{Energy: .2, Valence: .55, Danceability: .35, BPM: .22, Loudness: .32, SpectralCentroid: .38, ModeNumeric: 1}},
		{Mood: contract.MoodAggressive, Vector: featureVector{Energy: .95, Valence: .1, Danceability: .5, BPM: .65, Loudness: .9, SpectralCentroid: .6, ModeNumeric: 0}},
		{Mood: contract.MoodAggressive, Vector: featureVector{Energy: .9, Valence: .12, Danceability: .55, BPM: .6, Loudness: .88, SpectralCentroid: .58, ModeNumeric: 0}},
	}

	model, err := TrainKMeansModel(samples, 2)
	if err != nil {
		t.Fatalf("TrainKMeansModel: %v", err)
	}

	scores := model.ScoreVector(featureVector{Energy: .93, Valence: .11, Danceability: .52, BPM: .62, Loudness: .89, SpectralCentroid: .59, ModeNumeric: 0})
	best := contract.MoodNeutral
	bestScore := -1.0
	for m, s := range scores {
		if s > bestScore {
			best, bestScore = m, s
		}
	}
	if best != contract.MoodAggressive {
		t.Fatalf("expected aggressive centroid to win, got %s (scores=%v)", best, scores)
	}
}

func TestTrainKMeansModelRejectsEmptySamples(t *testing.T) {
	if _, err := TrainKMeansModel(nil, 2); err == nil {
		t.Fatal("expected error for empty sample set")
	}
}

func TestTrainKMeansModelRejectsInvalidK(t *testing.T) {
	samples := []LabelledSample{{Mood: contract.MoodChill, Vector: featureVector{Energy: .5}}}
	if _, err := TrainKMeansModel(samples, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
	if _, err := TrainKMeansModel(samples, 5); err == nil {
		t.Fatal("expected error for k > len(samples)")
	}
}

func TestLoadKMeansModelFileDefaultSentinel(t *testing.T) {
	model, err := LoadKMeansModelFile("default")
	if err != nil {
		t.Fatalf("LoadKMeansModelFile: %v", err)
	}
	if len(model.centroids) != len(defaultCentroids()) {
		t.Fatalf("expected default centroid count, got %d", len(model.centroids))
	}
}

func TestLoadKMeansModelFileReadsJSON(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/centroids.json"
	body := `[
		{"mood":"chill","energy":0.2,"valence":0.6,"danceability":0.3,"bpm":0.2,"loudness":0.3,"spectral_centroid":0.4,"mode_numeric":1},
		{"mood":"aggressive","energy":0.9,"valence":0.1,"danceability":0.5,"bpm":0.6,"loudness":0.9,"spectral_centroid":0.6}
	]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	model, err := LoadKMeansModelFile(path)
	if err != nil {
		t.Fatalf("LoadKMeansModelFile: %v", err)
	}
	scores := model.ScoreVector(featureVector{Energy: .92, Valence: .1, Danceability: .5, BPM: .6, Loudness: .9, SpectralCentroid: .6})
	best := contract.MoodNeutral
	bestScore := -1.0
	for m, s := range scores {
		if s > bestScore {
			best, bestScore = m, s
		}
	}
	if best != contract.MoodAggressive {
		t.Fatalf("expected aggressive centroid to win, got %s (scores=%v)", best, scores)
	}
}

func TestLoadKMeansModelFileRejectsMissingFile(t *testing.T) {
	if _, err := LoadKMeansModelFile("/nonexistent/model.json"); err == nil {
		t.Fatal("expected an error for a missing model file")
	}
}

func TestKeyNumericMode(t *testing.T) {
	key, mode := KeyNumericMode(9, "minor")
	if key != 9 || mode != 0 {
		t.Fatalf("expected (9,0), got (%v,%v)", key, mode)
	}
	key, mode = KeyNumericMode(0, "major")
	if key != 0 || mode != 1 {
		t.Fatalf("expected (0,1), got (%v,%v)", key, mode)
	}
}
