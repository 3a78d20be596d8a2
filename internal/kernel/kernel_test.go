package kernel

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWAV writes a mono 16-bit PCM WAV, mirroring the teacher's
// fixtures.writeWAV (unexported in its own package, so reproduced here for
// test fixtures).
func writeTestWAV(t *testing.T, path string, samples []float64, sampleRate int) {
	t.Helper()
	buf := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf[i] = int16(s * 32767)
	}

	dataSize := len(buf) * 2
	riffSize := 36 + dataSize

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	f.Write([]byte("RIFF"))
	binary.Write(f, binary.LittleEndian, uint32(riffSize))
	f.Write([]byte("WAVE"))
	f.Write([]byte("fmt "))
	binary.Write(f, binary.LittleEndian, uint32(16))
	binary.Write(f, binary.LittleEndian, uint16(1))
	binary.Write(f, binary.LittleEndian, uint16(1))
	binary.Write(f, binary.LittleEndian, uint32(sampleRate))
	binary.Write(f, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(f, binary.LittleEndian, int16(2))
	binary.Write(f, binary.LittleEndian, int16(16))
	f.Write([]byte("data"))
	binary.Write(f, binary.LittleEndian, uint32(dataSize))
	for _, v := range buf {
		binary.Write(f, binary.LittleEndian, v)
	}
}

func sineWave(freq float64, durationSec float64, sampleRate int) []float64 {
	n := int(durationSec * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = 0.8 * math.Sin(2*math.Pi*freq*t)
	}
	return out
}

func clickTrack(bpm float64, beats int, sampleRate int) []float64 {
	secondsPerBeat := 60.0 / bpm
	samples := int(secondsPerBeat * float64(beats) * float64(sampleRate))
	data := make([]float64, samples)
	clickLen := int(0.01 * float64(sampleRate))
	for i := 0; i < beats; i++ {
		offset := int(secondsPerBeat * float64(i) * float64(sampleRate))
		for j := 0; j < clickLen && offset+j < len(data); j++ {
			data[offset+j] += math.Exp(-4 * float64(j) / float64(clickLen))
		}
	}
	return data
}

func TestLoadDecodesWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	writeTestWAV(t, path, sineWave(440, 1.0, 44100), 44100)

	h := NewHeuristic()
	pcm, err := h.Load(context.Background(), path, 44100)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pcm.SampleRate != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) == 0 {
		t.Fatal("expected decoded samples")
	}
}

func TestLoadResamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	writeTestWAV(t, path, sineWave(440, 0.5, 44100), 44100)

	h := NewHeuristic()
	pcm, err := h.Load(context.Background(), path, 22050)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pcm.SampleRate != 22050 {
		t.Fatalf("expected resampled rate 22050, got %d", pcm.SampleRate)
	}
}

func TestGlobalFeaturesProducesInRangeValues(t *testing.T) {
	h := NewHeuristic()
	pcm := PCM{Samples: sineWave(440, 2.0, 22050), SampleRate: 22050}

	feats, err := h.GlobalFeatures(pcm)
	if err != nil {
		t.Fatalf("GlobalFeatures: %v", err)
	}
	if feats.RMSEnergy <= 0 {
		t.Fatalf("expected positive RMS energy, got %v", feats.RMSEnergy)
	}
	if feats.Valence < 0 || feats.Valence > 1 {
		t.Fatalf("valence out of range: %v", feats.Valence)
	}
	if feats.Danceability < 0 || feats.Danceability > 1 {
		t.Fatalf("danceability out of range: %v", feats.Danceability)
	}
	if feats.Mode != "major" && feats.Mode != "minor" {
		t.Fatalf("unexpected mode: %q", feats.Mode)
	}
}

func TestEstimateTempoFindsClickBPM(t *testing.T) {
	pcm := PCM{Samples: clickTrack(128, 32, 22050), SampleRate: 22050}
	bpm, conf := estimateTempo(pcm)

	// Harmonics of the true tempo (half/double) are also plausible peaks of
	// the autocorrelation; accept any of them within tolerance.
	candidates := []float64{128, 64, 256}
	ok := false
	for _, c := range candidates {
		if math.Abs(bpm-c) < c*0.1 {
			ok = true
			break
		}
	}
	if !ok {
		t.Fatalf("expected bpm near a harmonic of 128, got %v (confidence %v)", bpm, conf)
	}
}

func TestWindowsSkipsShortTrailingChunk(t *testing.T) {
	h := NewHeuristic()
	pcm := PCM{Samples: make([]float64, 22050*5), SampleRate: 22050} // 5s at 22050Hz

	windows := h.Windows(pcm, 2.0)
	// 5s / 2s windows -> 2 full windows + 1s remainder, which is < window/2? No,
	// 1s == window/2 exactly, which must NOT be dropped (only strictly shorter).
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows (2 full + boundary remainder), got %d", len(windows))
	}
}

func TestWindowsDropsTinyTrailingChunk(t *testing.T) {
	h := NewHeuristic()
	pcm := PCM{Samples: make([]float64, 22050*4+100), SampleRate: 22050}

	windows := h.Windows(pcm, 2.0)
	if len(windows) != 2 {
		t.Fatalf("expected the tiny trailing chunk dropped, got %d windows", len(windows))
	}
}

func TestEstimateKeyCMajorChord(t *testing.T) {
	sr := 22050
	n := int(2.0 * float64(sr))
	samples := make([]float64, n)
	for _, freq := range []float64{261.63, 329.63, 392.0} { // C major triad
		for i := range samples {
			tt := float64(i) / float64(sr)
			samples[i] += 0.3 * math.Sin(2*math.Pi*freq*tt)
		}
	}
	chroma := chromaVector(PCM{Samples: samples, SampleRate: sr})
	keyName, mode, conf := estimateKey(chroma)

	if mode != "major" {
		t.Fatalf("expected major mode for a major triad, got %q", mode)
	}
	if conf <= 0 {
		t.Fatalf("expected positive key confidence, got %v", conf)
	}
	if keyName == "" {
		t.Fatal("expected a non-empty key name")
	}
}

func TestExtractMetadataHandlesMissingTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notags.wav")
	writeTestWAV(t, path, sineWave(220, 0.2, 22050), 22050)

	md, err := ExtractMetadata(path, 0.2, 1234, ".wav")
	if err != nil {
		t.Fatalf("ExtractMetadata: %v", err)
	}
	if md.Duration != 0.2 || md.FileSize != 1234 || md.Extension != ".wav" {
		t.Fatalf("unexpected metadata fallback: %+v", md)
	}
}
