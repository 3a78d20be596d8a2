package kernel

import (
	"context"
	"math"
)

// chromaNames are the twelve pitch-class names, starting at C.
var chromaNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func chromaBaseFreq(pitchClass int) float64 {
	// A4 = 440Hz is pitch class 9; semitone distance from A4 gives frequency.
	semitonesFromA4 := pitchClass - 9
	return 440 * math.Pow(2, float64(semitonesFromA4)/12)
}

// majorProfile and minorProfile are the Krumhansl-Schmuckler key profiles,
// used to correlate a chroma vector against all 24 major/minor keys.
var majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
var minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}

// Heuristic is the reference FeatureKernel: it decodes WAV PCM with the
// stdlib and derives tempo/key/spectral descriptors with simple signal
// heuristics rather than a full DSP stack, since the retrieval pack carries
// no FFT/audio-analysis library (spec treats these internals as opaque, so
// any reasonable estimator satisfies the contract).
type Heuristic struct{}

// NewHeuristic constructs the reference FeatureKernel.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Load decodes path into mono PCM, resampling to sampleRate if the file's
// native rate differs.
func (h *Heuristic) Load(ctx context.Context, path string, sampleRate int) (PCM, error) {
	pcm, err := decodeWAV(path)
	if err != nil {
		return PCM{}, err
	}
	if sampleRate > 0 && pcm.SampleRate != sampleRate {
		pcm = resample(pcm, sampleRate)
	}
	return pcm, nil
}

func resample(pcm PCM, targetRate int) PCM {
	if pcm.SampleRate == 0 || len(pcm.Samples) == 0 {
		return PCM{Samples: pcm.Samples, SampleRate: targetRate}
	}
	ratio := float64(targetRate) / float64(pcm.SampleRate)
	outLen := int(float64(len(pcm.Samples)) * ratio)
	out := make([]float64, outLen)
	for i := range out {
		srcPos := float64(i) / ratio
		lo := int(srcPos)
		if lo >= len(pcm.Samples)-1 {
			out[i] = pcm.Samples[len(pcm.Samples)-1]
			continue
		}
		frac := srcPos - float64(lo)
		out[i] = pcm.Samples[lo]*(1-frac) + pcm.Samples[lo+1]*frac
	}
	return PCM{Samples: out, SampleRate: targetRate}
}

// GlobalFeatures extracts the full descriptor set from a PCM buffer.
func (h *Heuristic) GlobalFeatures(pcm PCM) (RawFeatures, error) {
	if len(pcm.Samples) == 0 || pcm.SampleRate == 0 {
		return RawFeatures{}, nil
	}

	rms := rmsEnergy(pcm.Samples)
	zcr := zeroCrossingRate(pcm.Samples)
	chroma := chromaVector(pcm)
	keyName, mode, keyConf := estimateKey(chroma)
	bpm, bpmConf := estimateTempo(pcm)
	centroid, rolloff, bandwidth, flatness := spectralDescriptors(pcm)

	variance := 0.0
	mean := (centroid + rolloff + bandwidth) / 3
	for _, v := range []float64{centroid, rolloff, bandwidth} {
		d := v - mean
		variance += d * d
	}
	variance /= 3

	loudnessDB := -60.0
	if rms > 0 {
		loudnessDB = 20 * math.Log10(rms)
	}

	brightness := clamp01(centroid / 8000)
	valence := clamp01(0.5 + 0.3*brightness - 0.2*(1-clamp01(bpm/180)))
	if mode == "minor" {
		valence *= 0.8
	}
	danceability := clamp01(0.4 + 0.4*clamp01((bpm-80)/100) + 0.2*clamp01(rms*2))

	return RawFeatures{
		BPM:               bpm,
		BPMConfidence:     bpmConf,
		KeyName:           keyName,
		Mode:              mode,
		KeyConfidence:     keyConf,
		SpectralCentroid:  centroid,
		SpectralRolloff:   rolloff,
		SpectralBandwidth: bandwidth,
		SpectralFlatness:  flatness,
		ZeroCrossingRate:  zcr,
		MFCCVariance:      variance / 1e6, // scaled down to a roughly [0,1] range
		RMSEnergy:         rms,
		LoudnessDB:        loudnessDB,
		Valence:           valence,
		Danceability:      danceability,
	}, nil
}

// Windows segments pcm into non-overlapping windowSeconds chunks, skipping
// a trailing chunk shorter than windowSeconds/2 (spec §4.3 step 5).
func (h *Heuristic) Windows(pcm PCM, windowSeconds float64) []Window {
	if pcm.SampleRate == 0 || windowSeconds <= 0 {
		return nil
	}
	windowSamples := int(windowSeconds * float64(pcm.SampleRate))
	if windowSamples <= 0 {
		return nil
	}

	var out []Window
	for start := 0; start < len(pcm.Samples); start += windowSamples {
		end := start + windowSamples
		if end > len(pcm.Samples) {
			end = len(pcm.Samples)
		}
		if end-start < windowSamples/2 {
			break
		}
		chunk := pcm.Samples[start:end]

		chunkPCM := PCM{Samples: chunk, SampleRate: pcm.SampleRate}
		rms := rmsEnergy(chunk)
		zcr := zeroCrossingRate(chunk)
		centroid, rolloff, bandwidth, _ := spectralDescriptors(chunkPCM)

		out = append(out, Window{
			TimestampS:        float64(start) / float64(pcm.SampleRate),
			EnergyValue:       clamp01(rms * 3),
			RMSEnergy:         rms,
			BrightnessValue:   clamp01(centroid / 8000),
			SpectralRolloff:   rolloff,
			ZeroCrossingRate:  zcr,
			SpectralBandwidth: bandwidth,
		})
	}
	return out
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

func rmsEnergy(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// goertzelMagnitude computes the magnitude of the single DFT bin at freq Hz
// over samples sampled at sampleRate. Used in place of a full FFT: the
// retrieval pack carries no FFT library, and Goertzel is the standard
// single-frequency alternative when only a handful of bins are needed (here,
// 12 chroma bins and a small set of spectral-descriptor bins).
func goertzelMagnitude(samples []float64, sampleRate int, freq float64) float64 {
	n := len(samples)
	if n == 0 || sampleRate == 0 {
		return 0
	}
	k := freq * float64(n) / float64(sampleRate)
	omega := 2 * math.Pi * k / float64(n)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	real := s1 - s2*math.Cos(omega)
	imag := s2 * math.Sin(omega)
	return math.Sqrt(real*real + imag*imag)
}

// spectralBins are the frequency samples used to approximate the magnitude
// spectrum for centroid/rolloff/bandwidth/flatness, log-spaced across the
// audible range.
func spectralBins() []float64 {
	const n = 32
	bins := make([]float64, n)
	minF, maxF := 40.0, 10000.0
	for i := range bins {
		t := float64(i) / float64(n-1)
		bins[i] = minF * math.Pow(maxF/minF, t)
	}
	return bins
}

func spectralDescriptors(pcm PCM) (centroid, rolloff, bandwidth, flatness float64) {
	if len(pcm.Samples) == 0 {
		return 0, 0, 0, 0
	}
	bins := spectralBins()
	mags := make([]float64, len(bins))
	var totalMag float64
	for i, f := range bins {
		mags[i] = goertzelMagnitude(pcm.Samples, pcm.SampleRate, f)
		totalMag += mags[i]
	}
	if totalMag == 0 {
		return 0, 0, 0, 0
	}

	for i, f := range bins {
		centroid += f * mags[i]
	}
	centroid /= totalMag

	var varSum float64
	for i, f := range bins {
		d := f - centroid
		varSum += d * d * mags[i]
	}
	bandwidth = math.Sqrt(varSum / totalMag)

	var cumulative float64
	rolloff = bins[len(bins)-1]
	for i, m := range mags {
		cumulative += m
		if cumulative >= 0.85*totalMag {
			rolloff = bins[i]
			break
		}
	}

	geoMeanLog := 0.0
	for _, m := range mags {
		geoMeanLog += math.Log(m + 1e-9)
	}
	geoMean := math.Exp(geoMeanLog / float64(len(mags)))
	arithMean := totalMag / float64(len(mags))
	if arithMean > 0 {
		flatness = geoMean / arithMean
	}

	return centroid, rolloff, bandwidth, flatness
}

// chromaVector sums Goertzel energy across three octaves for each of the
// twelve pitch classes.
func chromaVector(pcm PCM) [12]float64 {
	var chroma [12]float64
	for pc := 0; pc < 12; pc++ {
		base := chromaBaseFreq(pc)
		for octave := -1; octave <= 1; octave++ {
			freq := base * math.Pow(2, float64(octave))
			chroma[pc] += goertzelMagnitude(pcm.Samples, pcm.SampleRate, freq)
		}
	}
	return chroma
}

// estimateKey correlates the chroma vector against all 24 rotations of the
// Krumhansl-Schmuckler major/minor profiles and returns the best match.
func estimateKey(chroma [12]float64) (keyName, mode string, confidence float64) {
	bestScore := math.Inf(-1)
	bestTonic := 0
	bestMode := "major"

	for tonic := 0; tonic < 12; tonic++ {
		majorScore := correlate(chroma, majorProfile, tonic)
		if majorScore > bestScore {
			bestScore = majorScore
			bestTonic = tonic
			bestMode = "major"
		}
		minorScore := correlate(chroma, minorProfile, tonic)
		if minorScore > bestScore {
			bestScore = minorScore
			bestTonic = tonic
			bestMode = "minor"
		}
	}

	label := "Major"
	if bestMode == "minor" {
		label = "Minor"
	}
	confidence = clamp01((bestScore + 1) / 2)
	return chromaNames[bestTonic] + " " + label, bestMode, confidence
}

// correlate computes the Pearson correlation between chroma and profile
// rotated so its tonic sits at pitch class `tonic`.
func correlate(chroma [12]float64, profile [12]float64, tonic int) float64 {
	var meanC, meanP float64
	for i := 0; i < 12; i++ {
		meanC += chroma[i]
		meanP += profile[i]
	}
	meanC /= 12
	meanP /= 12

	var num, denomC, denomP float64
	for i := 0; i < 12; i++ {
		pv := profile[(i-tonic+12)%12]
		dc := chroma[i] - meanC
		dp := pv - meanP
		num += dc * dp
		denomC += dc * dc
		denomP += dp * dp
	}
	if denomC == 0 || denomP == 0 {
		return 0
	}
	return num / math.Sqrt(denomC*denomP)
}

// estimateTempo finds the dominant periodicity of the onset envelope (the
// rectified first difference of short-time RMS energy) via autocorrelation,
// restricted to the 60-200 BPM range.
func estimateTempo(pcm PCM) (bpm, confidence float64) {
	const hopSeconds = 0.02
	hop := int(hopSeconds * float64(pcm.SampleRate))
	if hop <= 0 {
		return 120, 0
	}

	var envelope []float64
	var prevEnergy float64
	for start := 0; start < len(pcm.Samples); start += hop {
		end := start + hop
		if end > len(pcm.Samples) {
			end = len(pcm.Samples)
		}
		e := rmsEnergy(pcm.Samples[start:end])
		diff := e - prevEnergy
		if diff < 0 {
			diff = 0
		}
		envelope = append(envelope, diff)
		prevEnergy = e
	}
	if len(envelope) < 4 {
		return 120, 0
	}

	hopRate := 1.0 / hopSeconds
	minLag := int(hopRate * 60 / 200)
	maxLag := int(hopRate * 60 / 60)
	if maxLag >= len(envelope) {
		maxLag = len(envelope) - 1
	}
	if minLag < 1 {
		minLag = 1
	}

	bestLag := minLag
	bestCorr := math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i+lag < len(envelope); i++ {
			sum += envelope[i] * envelope[i+lag]
		}
		if sum > bestCorr {
			bestCorr = sum
			bestLag = lag
		}
	}

	bpm = hopRate * 60 / float64(bestLag)
	confidence = 0.5
	if bestCorr > 0 {
		confidence = clamp01(bestCorr / (bestCorr + 1))
	}
	return bpm, confidence
}
