package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomtrack/engine/internal/kernel"
	"github.com/loomtrack/engine/internal/mood"
	"github.com/loomtrack/engine/internal/store"
	"github.com/loomtrack/engine/internal/tasks"
)

// fakeKernel is a deterministic FeatureKernel stand-in, avoiding real WAV
// decode/DSP work in unit tests of the batch-scheduling and persistence
// logic (kernel.Heuristic itself is exercised directly in its own package).
type fakeKernel struct {
	failLoad bool
}

func (k *fakeKernel) Load(ctx context.Context, path string, sampleRate int) (kernel.PCM, error) {
	if k.failLoad {
		return kernel.PCM{}, os.ErrNotExist
	}
	return kernel.PCM{Samples: make([]float64, sampleRate), SampleRate: sampleRate}, nil
}

func (k *fakeKernel) GlobalFeatures(pcm kernel.PCM) (kernel.RawFeatures, error) {
	return kernel.RawFeatures{
		BPM: 128, BPMConfidence: 0.9,
		KeyName: "C Major", Mode: "major", KeyConfidence: 0.8,
		SpectralCentroid: 2500, SpectralRolloff: 4000, SpectralBandwidth: 1000, SpectralFlatness: 0.3,
		ZeroCrossingRate: 0.1, MFCCVariance: 0.2, RMSEnergy: 0.3, LoudnessDB: -10,
		Valence: 0.6, Danceability: 0.7,
	}, nil
}

func (k *fakeKernel) Windows(pcm kernel.PCM, windowSeconds float64) []kernel.Window {
	return []kernel.Window{{TimestampS: 0, EnergyValue: 0.5, RMSEnergy: 0.3, BrightnessValue: 0.4, SpectralRolloff: 4000, ZeroCrossingRate: 0.1, SpectralBandwidth: 1000}}
}

func touchFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestEngine(t *testing.T, k kernel.FeatureKernel) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, k, mood.NewClassifier(), tasks.NewRegistry()), s
}

func waitForTerminal(t *testing.T, reg *tasks.Registry, taskID string) *tasks.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := reg.Get(taskID)
		if ok && task.State != tasks.StateRunning && task.State != tasks.StatePending {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return nil
}

func TestRunBatchAnalyzesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.wav")
	touchFile(t, path, 4096)

	engine, s := newTestEngine(t, &fakeKernel{})

	taskID, err := engine.RunBatch(context.Background(), nil, []string{path}, Options{}, nil)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	task := waitForTerminal(t, engine.Tasks, taskID)
	if task.State != tasks.StateCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", task.State, task.Errors)
	}
	if task.Summary.Successful != 1 {
		t.Fatalf("expected 1 successful, got %+v", task.Summary)
	}

	cached, err := s.IsCached(path)
	if err != nil || !cached {
		t.Fatalf("expected track cached after analysis, got %v, %v", cached, err)
	}
}

func TestRunBatchSkipsCachedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.wav")
	touchFile(t, path, 4096)

	engine, _ := newTestEngine(t, &fakeKernel{})

	id1, _ := engine.RunBatch(context.Background(), nil, []string{path}, Options{}, nil)
	waitForTerminal(t, engine.Tasks, id1)

	id2, _ := engine.RunBatch(context.Background(), nil, []string{path}, Options{}, nil)
	task2 := waitForTerminal(t, engine.Tasks, id2)
	if task2.Summary.SkippedCached != 1 {
		t.Fatalf("expected cache hit on second run, got %+v", task2.Summary)
	}
}

func TestRunBatchTooSmallFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.wav")
	touchFile(t, path, 10) // below the 1KiB pre-check floor

	engine, s := newTestEngine(t, &fakeKernel{})

	taskID, _ := engine.RunBatch(context.Background(), nil, []string{path}, Options{}, nil)
	task := waitForTerminal(t, engine.Tasks, taskID)
	if task.Summary.Failed != 1 {
		t.Fatalf("expected 1 failed (pre-check), got %+v", task.Summary)
	}

	analysis, ok, err := s.Load(path)
	if err != nil || !ok {
		t.Fatalf("expected a fallback record persisted: %v, %v", ok, err)
	}
	if analysis.Status != "fallback" {
		t.Fatalf("expected fallback status, got %s", analysis.Status)
	}
}

func TestRunBatchKernelFailureProducesFallbackAndContinues(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.wav")
	bad := filepath.Join(dir, "bad.wav")
	touchFile(t, ok, 4096)
	touchFile(t, bad, 4096)

	engine, _ := newTestEngine(t, &fakeKernel{failLoad: true})

	taskID, _ := engine.RunBatch(context.Background(), nil, []string{ok, bad}, Options{}, nil)
	task := waitForTerminal(t, engine.Tasks, taskID)
	if task.Summary.Failed != 2 {
		t.Fatalf("expected both files to fail load and fall back, got %+v", task.Summary)
	}
	if task.State != tasks.StateError {
		t.Fatalf("expected error state when nothing succeeded, got %s", task.State)
	}
}

func TestRunBatchCancellation(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 20; i++ {
		path := filepath.Join(dir, "track.wav")
		path = path[:len(path)-4] + string(rune('a'+i)) + ".wav"
		touchFile(t, path, 4096)
		files = append(files, path)
	}

	engine, _ := newTestEngine(t, &fakeKernel{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	taskID, _ := engine.RunBatch(ctx, nil, files, Options{Workers: 1}, nil)
	task := waitForTerminal(t, engine.Tasks, taskID)
	if task.State != tasks.StateCancelled {
		t.Fatalf("expected cancelled, got %s", task.State)
	}
}
