// Package kernel defines FeatureKernel, the DSP capability the analysis
// engine consumes (spec §1: "the core consumes a FeatureKernel capability
// and makes no assumption about its algorithmic internals"). It is
// rendered as an in-process Go interface rather than an RPC boundary,
// since that is the literal expression of the spec's contract. Heuristic
// is the reference implementation, grounded on the teacher's
// analyzer/fallback capability-with-default-implementation pattern.
package kernel

import "context"

// PCM is a decoded, mono audio buffer at a known sample rate.
type PCM struct {
	Samples    []float64
	SampleRate int
}

// Duration reports the buffer's length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// RawFeatures is the set of descriptors FeatureKernel extracts from a PCM
// buffer, covering spec §4.3 step 4's vocabulary.
type RawFeatures struct {
	BPM               float64
	BPMConfidence     float64
	KeyName           string // e.g. "C Major", "A Minor"
	Mode              string // "major" | "minor"
	KeyConfidence     float64
	SpectralCentroid  float64
	SpectralRolloff   float64
	SpectralBandwidth float64
	SpectralFlatness  float64
	ZeroCrossingRate  float64
	MFCCVariance      float64
	RMSEnergy         float64
	LoudnessDB        float64
	Valence           float64
	Danceability      float64
}

// Window is one non-overlapping time-series segment (spec §4.3 step 5).
type Window struct {
	TimestampS        float64
	EnergyValue       float64
	RMSEnergy         float64
	BrightnessValue   float64
	SpectralRolloff   float64
	ZeroCrossingRate  float64
	SpectralBandwidth float64
}

// FeatureKernel is the DSP primitive surface: load PCM, global features,
// and the windowed energy/brightness curve.
type FeatureKernel interface {
	// Load decodes path into mono PCM at the kernel's configured sample
	// rate, trimming head/tail silence and peak-normalizing.
	Load(ctx context.Context, path string, sampleRate int) (PCM, error)
	// GlobalFeatures extracts the full descriptor set from a PCM buffer.
	GlobalFeatures(pcm PCM) (RawFeatures, error)
	// Windows segments pcm into non-overlapping windowSeconds chunks,
	// skipping a trailing chunk shorter than windowSeconds/2.
	Windows(pcm PCM, windowSeconds float64) []Window
}
