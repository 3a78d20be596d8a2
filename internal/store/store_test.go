package store

import (
	"path/filepath"
	"testing"

	"github.com/loomtrack/engine/internal/contract"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleAnalysis() *contract.Analysis {
	return &contract.Analysis{
		FilePath: "/music/track.mp3",
		Status:   contract.StatusCompleted,
		Metadata: contract.Metadata{
			Title: "Track", Artist: "Artist", Album: "Album",
			Duration: 180, FileSize: 4_000_000, Extension: ".mp3",
		},
		Features: contract.GlobalFeatures{
			BPM: 128, Energy: .8, Valence: .7, Danceability: .75, Loudness: -8,
			SpectralCentroid: 2500, ZeroCrossingRate: .1, MFCCVariance: .4,
			KeyName: "C Major", Camelot: "8B", KeyConfidence: .9, Mode: "major",
			PrimaryMood: contract.MoodEuphoric, MoodConfidence: .8,
			MoodScores:  map[contract.Mood]float64{contract.MoodEuphoric: .8, contract.MoodNeutral: .2},
			EnergyLevel: contract.EnergyHigh, BPMCategory: contract.BPMFast,
		},
		TimeSeries: []contract.TimeSeriesPoint{
			{TimestampS: 0, EnergyValue: .5, RMSEnergy: .4, BrightnessValue: .3, SpectralRolloff: 3000},
			{TimestampS: 5, EnergyValue: .6, RMSEnergy: .5, BrightnessValue: .4, SpectralRolloff: 3200},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()

	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := s.Load(a.FilePath)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if loaded.Features.BPM != 128 || loaded.Features.Camelot != "8B" {
		t.Fatalf("unexpected loaded features: %+v", loaded.Features)
	}
	if len(loaded.TimeSeries) != 2 {
		t.Fatalf("expected 2 time series points, got %d", len(loaded.TimeSeries))
	}
}

func TestIsCachedReflectsSaveState(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()

	cached, err := s.IsCached(a.FilePath)
	if err != nil || cached {
		t.Fatalf("expected not cached before save, got %v err=%v", cached, err)
	}

	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cached, err = s.IsCached(a.FilePath)
	if err != nil || !cached {
		t.Fatalf("expected cached after save, got %v err=%v", cached, err)
	}
}

func TestSaveReplacesTimeSeriesAtomically(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()
	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a.TimeSeries = []contract.TimeSeriesPoint{{TimestampS: 0, EnergyValue: .9, RMSEnergy: .9, BrightnessValue: .9, SpectralRolloff: 4000}}
	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save (replace): %v", err)
	}

	loaded, _, err := s.Load(a.FilePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.TimeSeries) != 1 || loaded.TimeSeries[0].EnergyValue != .9 {
		t.Fatalf("expected replaced time series, got %+v", loaded.TimeSeries)
	}
}

func TestLoadMissingReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Load("/music/missing.mp3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for uncached track")
	}
}

func TestListFiltersByMood(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()
	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rows, err := s.List(Filters{Mood: contract.MoodEuphoric, Sort: SortBPM}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].FilePath != a.FilePath {
		t.Fatalf("expected 1 matching row, got %+v", rows)
	}

	rows, err = s.List(Filters{Mood: contract.MoodChill}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows for non-matching mood, got %+v", rows)
	}
}

func TestStatsCountsTracksAndAnalyzed(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()
	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTracks != 1 || stats.AnalyzedTracks != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClearRemovesAllTracks(t *testing.T) {
	s := openTestStore(t)
	a := sampleAnalysis()
	if _, err := s.Save(a.FilePath, "fp-1", a); err != nil {
		t.Fatalf("Save: %v", err)
	}

	removed, err := s.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	cached, _ := s.IsCached(a.FilePath)
	if cached {
		t.Fatal("expected cache cleared along with tables")
	}
}
