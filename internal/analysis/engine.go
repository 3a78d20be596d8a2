// Package analysis implements AnalysisEngine: the per-file pipeline
// (validate -> load -> extract -> segment -> classify -> persist) and its
// batch scheduling over a worker pool. Grounded on the teacher's
// scanner.Scan (progress-channel shape, sequential WalkDir loop) and
// analyzer.{analyzer,client,fallback} (the capability-interface +
// CPU-fallback pattern), generalized to a bounded worker pool per spec §5
// and rendered against kernel.FeatureKernel instead of a gRPC analyzer
// client.
package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/loomtrack/engine/internal/contract"
	"github.com/loomtrack/engine/internal/enumerator"
	"github.com/loomtrack/engine/internal/fingerprint"
	"github.com/loomtrack/engine/internal/harmony"
	"github.com/loomtrack/engine/internal/kernel"
	"github.com/loomtrack/engine/internal/mood"
	"github.com/loomtrack/engine/internal/store"
	"github.com/loomtrack/engine/internal/tasks"
)

// Options configures one batch run.
type Options struct {
	Recursive       bool
	OverwriteCache  bool
	IncludePatterns []string
	ExcludePatterns []string
	SampleRate      int     // default 44100
	WindowSeconds   float64 // default 5.0
	MaxFileSizeB    int64   // default 500 MiB
	MinFileSizeB    int64   // pre-check lower bound, default 1 KiB
	MaxDepth        int     // 0 means unbounded directory walk depth
	Workers         int     // default min(NumCPU, 8), 0 means "use default"
}

func (o Options) withDefaults() Options {
	if o.SampleRate == 0 {
		o.SampleRate = 44100
	}
	if o.WindowSeconds == 0 {
		o.WindowSeconds = 5.0
	}
	if o.MaxFileSizeB == 0 {
		o.MaxFileSizeB = 500 * 1024 * 1024
	}
	if o.MinFileSizeB == 0 {
		o.MinFileSizeB = 1024
	}
	if o.Workers == 0 {
		o.Workers = runtime.NumCPU()
		if o.Workers > 8 {
			o.Workers = 8
		}
		if o.Workers < 1 {
			o.Workers = 1
		}
	}
	return o
}

// ProgressFunc is invoked after each file completes, carrying
// (processed, total, current_file), per spec §4.3.
type ProgressFunc func(processed, total int, currentFile string)

// Engine wires TrackStore, FeatureKernel, MoodClassifier, and HarmonyModel
// into the full per-file pipeline.
type Engine struct {
	Store      *store.Store
	Kernel     kernel.FeatureKernel
	Classifier *mood.Classifier
	Tasks      *tasks.Registry
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(s *store.Store, k kernel.FeatureKernel, classifier *mood.Classifier, registry *tasks.Registry) *Engine {
	return &Engine{Store: s, Kernel: k, Classifier: classifier, Tasks: registry}
}

// RunBatch analyzes roots (directories, enumerated per opts) or an explicit
// file list, advancing a newly created task and returning its ID
// immediately; the batch itself runs in the background and reports through
// onProgress until the task reaches a terminal state.
func (e *Engine) RunBatch(ctx context.Context, roots []string, explicitFiles []string, opts Options, onProgress ProgressFunc) (string, error) {
	opts = opts.withDefaults()

	files := explicitFiles
	if len(files) == 0 && len(roots) > 0 {
		found, err := enumerator.Enumerate(roots, enumerator.Options{
			Recursive:       opts.Recursive,
			MaxDepth:        opts.MaxDepth,
			IncludePatterns: opts.IncludePatterns,
			ExcludePatterns: opts.ExcludePatterns,
		})
		if err != nil {
			return "", fmt.Errorf("analysis: enumerate: %w", err)
		}
		files = found
	}

	taskID := e.Tasks.Create(len(files))
	if err := e.Tasks.Start(taskID); err != nil {
		return taskID, err
	}

	go e.runBatch(ctx, taskID, files, opts, onProgress)
	return taskID, nil
}

// runBatch drives the worker pool and owns every store access itself: the
// spawned workers are pure CPU-bound functions over (path, opts) that never
// see e.Store, so they share no store handle between them. The feeder
// goroutine performs the one store read (the cache probe) sequentially
// before handing a path to a worker, and this goroutine -- the
// orchestrator -- performs the one store write once a worker result comes
// back, per spec §4.3/§5/§9.
func (e *Engine) runBatch(ctx context.Context, taskID string, files []string, opts Options, onProgress ProgressFunc) {
	summary := tasks.Summary{}
	processed := 0

	sequential := len(files) < 2 || opts.Workers <= 1
	workers := opts.Workers
	if sequential {
		workers = 1
	}

	work := make(chan string)
	results := make(chan workResult)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range work {
				results <- analyzeFile(ctx, e.Kernel, e.Classifier, path, opts)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer close(work)
	feed:
		for _, path := range files {
			select {
			case <-ctx.Done():
				break feed
			default:
			}

			if !opts.OverwriteCache {
				if cached, err := e.Store.IsCached(path); err == nil && cached {
					select {
					case results <- workResult{path: path, outcome: outcomeCached}:
					case <-ctx.Done():
						break feed
					}
					continue
				}
			}

			select {
			case work <- path:
			case <-ctx.Done():
				break feed
			}
		}
	}()

	for res := range results {
		processed++

		var saveErr string
		outcome := res.outcome
		switch res.outcome {
		case outcomeCached:
			// no store write: the cached record already reflects this file.
		case outcomeFailed:
			_, _ = e.Store.Save(res.path, res.fp.Digest, res.analysis) // best-effort fallback persistence
			saveErr = res.err.Error()
		case outcomeSuccess:
			if _, err := e.Store.Save(res.path, res.fp.Digest, res.analysis); err != nil {
				outcome = outcomeFailed
				saveErr = err.Error()
			}
		}

		switch outcome {
		case outcomeCached:
			summary.SkippedCached++
		case outcomeSuccess:
			summary.Successful++
		case outcomeFailed:
			summary.Failed++
		}

		if saveErr != "" {
			e.Tasks.Update(taskID, tasks.Delta{CurrentFile: res.path, Processed: 1, AddError: saveErr})
		} else {
			e.Tasks.Update(taskID, tasks.Delta{CurrentFile: res.path, Processed: 1})
		}
		if onProgress != nil {
			onProgress(processed, len(files), res.path)
		}
	}

	if ctx.Err() != nil {
		_ = e.Tasks.Cancel(taskID)
		return
	}

	state := tasks.StateCompleted
	if summary.Failed > 0 && summary.Successful == 0 && summary.SkippedCached == 0 {
		state = tasks.StateError
	}
	_ = e.Tasks.Finish(taskID, state, summary)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeCached
	outcomeFailed
)

// workResult is everything a worker hands back to the orchestrator: a
// ready-to-persist Analysis (success or fallback) plus its fingerprint, or
// the plain "cached, nothing to do" marker. Workers build this value
// without ever touching the store themselves.
type workResult struct {
	path     string
	outcome  outcome
	analysis *contract.Analysis
	fp       fingerprint.Result
	err      error
}

// analyzeFile runs the full per-file algorithm (spec §4.3 steps 1-8) as a
// pure function of its inputs: no Engine, no Store, nothing shared across
// goroutines. Every failure mode resolves to a fallback record the
// orchestrator can persist, so a single bad file cannot abort the batch.
func analyzeFile(ctx context.Context, k kernel.FeatureKernel, classifier *mood.Classifier, path string, opts Options) workResult {
	info, err := os.Stat(path)
	if err != nil {
		return fallbackResult(path, fingerprint.OfFile(path), contract.StatusFallback, err)
	}
	fp := fingerprint.Of(path, info.Size(), info.ModTime())

	if info.Size() < opts.MinFileSizeB || info.Size() > opts.MaxFileSizeB {
		err := fmt.Errorf("file size %d out of bounds [%d, %d]", info.Size(), opts.MinFileSizeB, opts.MaxFileSizeB)
		return fallbackResult(path, fp, contract.StatusFallback, err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !enumerator.SupportedExtensions[ext] {
		err := fmt.Errorf("unsupported extension %q", ext)
		return fallbackResult(path, fp, contract.StatusFallback, err)
	}

	pcm, err := k.Load(ctx, path, opts.SampleRate)
	if err != nil {
		return fallbackResult(path, fp, contract.StatusErrorFallback, err)
	}

	raw, err := k.GlobalFeatures(pcm)
	if err != nil {
		return fallbackResult(path, fp, contract.StatusErrorFallback, err)
	}

	windows := k.Windows(pcm, opts.WindowSeconds)
	timeSeries := make([]contract.TimeSeriesPoint, len(windows))
	for i, w := range windows {
		timeSeries[i] = contract.TimeSeriesPoint{
			TimestampS:      w.TimestampS,
			EnergyValue:     w.EnergyValue,
			RMSEnergy:       w.RMSEnergy,
			BrightnessValue: w.BrightnessValue,
			SpectralRolloff: w.SpectralRolloff,
		}
	}

	md, err := kernel.ExtractMetadata(path, pcm.Duration(), info.Size(), ext)
	if err != nil {
		md = contract.Metadata{Duration: pcm.Duration(), FileSize: info.Size(), Extension: ext}
	}

	camelot, ok := harmony.ToCamelot(raw.KeyName)
	if !ok {
		camelot = contract.SafeDefaults.Camelot
	}

	result := classifier.Classify(mood.Features{
		BPM:              raw.BPM,
		Loudness:         raw.LoudnessDB,
		SpectralCentroid: raw.SpectralCentroid,
		Energy:           clamp01(raw.RMSEnergy * 3), // rough energy proxy from RMS
		Valence:          raw.Valence,
		Danceability:     raw.Danceability,
		Mode:             raw.Mode,
	})

	features := contract.GlobalFeatures{
		BPM:              contract.Clamp(raw.BPM, 60, 200),
		Energy:           clamp01(raw.RMSEnergy * 3),
		Valence:          contract.Clamp(raw.Valence, 0, 1),
		Danceability:     contract.Clamp(raw.Danceability, 0, 1),
		Loudness:         contract.Clamp(raw.LoudnessDB, -120, 0),
		SpectralCentroid: raw.SpectralCentroid,
		ZeroCrossingRate: contract.Clamp(raw.ZeroCrossingRate, 0, 1),
		MFCCVariance:     raw.MFCCVariance,
		KeyName:          raw.KeyName,
		Camelot:          camelot,
		KeyConfidence:    contract.Clamp(raw.KeyConfidence, 0, 1),
		Mode:             raw.Mode,
		PrimaryMood:      result.Primary,
		MoodConfidence:   result.Confidence,
		MoodScores:       result.Scores,
		EnergyLevel:      energyLevel(clamp01(raw.RMSEnergy * 3)),
		BPMCategory:      bpmCategory(raw.BPM),
	}

	analysis := &contract.Analysis{
		FilePath:   path,
		Status:     contract.StatusCompleted,
		Features:   features,
		Metadata:   md,
		TimeSeries: timeSeries,
		Errors:     []string{},
	}

	return workResult{path: path, outcome: outcomeSuccess, analysis: analysis, fp: fp}
}

func fallbackResult(path string, fp fingerprint.Result, status contract.Status, cause error) workResult {
	return workResult{
		path:     path,
		outcome:  outcomeFailed,
		analysis: contract.Fallback(path, status, cause),
		fp:       fp,
		err:      cause,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func energyLevel(e float64) contract.EnergyLevel {
	switch {
	case e < 1.0/3:
		return contract.EnergyLow
	case e < 2.0/3:
		return contract.EnergyMedium
	default:
		return contract.EnergyHigh
	}
}

func bpmCategory(bpm float64) contract.BPMCategory {
	switch {
	case bpm < 90:
		return contract.BPMSlow
	case bpm < 120:
		return contract.BPMMedium
	case bpm < 150:
		return contract.BPMFast
	default:
		return contract.BPMVeryFast
	}
}
