// Package contract defines the wire-level shapes external callers consume
// (§6 of the spec) and the safe-default values used when a field cannot be
// computed. It is the single place that converts between the typed internal
// record and the JSON shape handed to HTTP/CLI/export collaborators.
package contract

// Status is the tagged discriminant of an analysis outcome.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusFallback     Status = "fallback"
	StatusError        Status = "error"
	StatusErrorFallback Status = "error_fallback"
)

// EnergyLevel is the derived categorical bucket for GlobalFeatures.Energy.
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// BPMCategory is the derived categorical bucket for GlobalFeatures.BPM.
type BPMCategory string

const (
	BPMSlow     BPMCategory = "slow"
	BPMMedium   BPMCategory = "medium"
	BPMFast     BPMCategory = "fast"
	BPMVeryFast BPMCategory = "very_fast"
)

// Mood is the closed set of mood categories the classifier may return.
type Mood string

const (
	MoodEuphoric    Mood = "euphoric"
	MoodDriving     Mood = "driving"
	MoodDark        Mood = "dark"
	MoodChill       Mood = "chill"
	MoodMelancholic Mood = "melancholic"
	MoodAggressive  Mood = "aggressive"
	MoodUplifting   Mood = "uplifting"
	MoodMysterious  Mood = "mysterious"
	MoodNeutral     Mood = "neutral"
)

// Moods lists the closed set in a fixed, stable order (used for iterating
// score vectors deterministically).
var Moods = []Mood{
	MoodEuphoric, MoodDriving, MoodDark, MoodChill, MoodMelancholic,
	MoodAggressive, MoodUplifting, MoodMysterious, MoodNeutral,
}

// SafeDefaults holds the fallback values from spec §7, used whenever a
// field cannot be computed or resolves out of range.
var SafeDefaults = struct {
	BPM              float64
	Energy           float64
	Valence          float64
	Danceability     float64
	Loudness         float64
	SpectralCentroid float64
	ZCR              float64
	MFCCVariance     float64
	Key              string
	Camelot          string
	KeyConfidence    float64
	PrimaryMood      Mood
	MoodConfidence   float64
	EnergyLevel      EnergyLevel
	BPMCategory      BPMCategory
}{
	BPM: 120.0, Energy: 0.5, Valence: 0.5, Danceability: 0.5,
	Loudness: -20.0, SpectralCentroid: 2000.0, ZCR: 0.1, MFCCVariance: 0.5,
	Key: "Unknown", Camelot: "1A", KeyConfidence: 0.0,
	PrimaryMood: MoodNeutral, MoodConfidence: 0.0,
	EnergyLevel: EnergyMedium, BPMCategory: BPMMedium,
}

// Metadata is the container-tag derived track metadata (§3 Track.metadata).
type Metadata struct {
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	Genre      string  `json:"genre,omitempty"`
	Year       int     `json:"year,omitempty"`
	Duration   float64 `json:"duration"`
	FileSize   int64   `json:"file_size"`
	Extension  string  `json:"extension"`
	AnalyzedAt int64   `json:"analyzed_at"`
}

// GlobalFeatures is the typed form of the §3 GlobalFeatures record.
type GlobalFeatures struct {
	BPM              float64          `json:"bpm"`
	Energy           float64          `json:"energy"`
	Valence          float64          `json:"valence"`
	Danceability     float64          `json:"danceability"`
	Loudness         float64          `json:"loudness"`
	SpectralCentroid float64          `json:"spectral_centroid"`
	ZeroCrossingRate float64          `json:"zero_crossing_rate"`
	MFCCVariance     float64          `json:"mfcc_variance"`
	KeyName          string           `json:"key_name"`
	Camelot          string           `json:"camelot"`
	KeyConfidence    float64          `json:"key_confidence"`
	Mode             string           `json:"mode"` // "major" | "minor"
	PrimaryMood      Mood             `json:"primary_mood"`
	MoodConfidence   float64          `json:"mood_confidence"`
	MoodScores       map[Mood]float64 `json:"mood_scores"`
	EnergyLevel      EnergyLevel      `json:"energy_level"`
	BPMCategory      BPMCategory      `json:"bpm_category"`
}

// TimeSeriesPoint is the typed form of the §3 TimeSeriesPoint record.
type TimeSeriesPoint struct {
	TimestampS      float64 `json:"timestamp"`
	EnergyValue     float64 `json:"energy_value"`
	RMSEnergy       float64 `json:"rms_energy"`
	BrightnessValue float64 `json:"brightness_value"`
	SpectralRolloff float64 `json:"spectral_rolloff"`
}

// DerivedMetrics bundles the classifier-adjacent derived fields exposed on
// the wire record.
type DerivedMetrics struct {
	EnergyLevel       EnergyLevel `json:"energy_level"`
	BPMCategory       BPMCategory `json:"bpm_category"`
	EstimatedMood     Mood        `json:"estimated_mood"`
	DanceabilityLevel string      `json:"danceability_level"`
}

// AnalysisRecord is the §6 JSON analysis record consumed by external
// callers. It is produced exclusively by Analysis.ToRecord below.
type AnalysisRecord struct {
	FilePath            string            `json:"file_path"`
	Filename            string            `json:"filename"`
	Status              Status            `json:"status"`
	Features            GlobalFeatures    `json:"features"`
	Metadata            Metadata          `json:"metadata"`
	Camelot             CamelotInfo       `json:"camelot"`
	MoodInfo            MoodInfo          `json:"mood"`
	DerivedMetrics      DerivedMetrics    `json:"derived_metrics"`
	TimeSeriesFeatures  []TimeSeriesPoint `json:"time_series_features"`
	Errors              []string          `json:"errors"`
	Version             string            `json:"version"`
}

// CamelotInfo is the §6 "camelot" sub-object.
type CamelotInfo struct {
	Key            string   `json:"key"`
	Camelot        string   `json:"camelot"`
	KeyConfidence  float64  `json:"key_confidence"`
	CompatibleKeys []string `json:"compatible_keys"`
}

// MoodInfo is the §6 "mood" sub-object.
type MoodInfo struct {
	PrimaryMood Mood             `json:"primary_mood"`
	Confidence  float64          `json:"confidence"`
	Scores      map[Mood]float64 `json:"scores"`
}

// Analysis is the internal, typed representation of one track's analysis
// output — the record §9 calls for, kept separate from the wire shape.
type Analysis struct {
	FilePath   string
	Status     Status
	Features   GlobalFeatures
	Metadata   Metadata
	TimeSeries []TimeSeriesPoint
	Errors     []string
}

const wireVersion = "2.0"

// Fallback builds a well-formed analysis populated with safe defaults, the
// named constructor §9 calls for ("Analysis::fallback"). kind selects
// whether this is a pre-validation fallback (input never reached the
// kernel) or a post-load failure.
func Fallback(path string, kind Status, cause error) *Analysis {
	status := StatusFallback
	if kind == StatusErrorFallback {
		status = StatusErrorFallback
	}

	errs := []string{}
	if cause != nil {
		errs = append(errs, cause.Error())
	}

	return &Analysis{
		FilePath: path,
		Status:   status,
		Features: GlobalFeatures{
			BPM:              SafeDefaults.BPM,
			Energy:           SafeDefaults.Energy,
			Valence:          SafeDefaults.Valence,
			Danceability:     SafeDefaults.Danceability,
			Loudness:         SafeDefaults.Loudness,
			SpectralCentroid: SafeDefaults.SpectralCentroid,
			ZeroCrossingRate: SafeDefaults.ZCR,
			MFCCVariance:     SafeDefaults.MFCCVariance,
			KeyName:          SafeDefaults.Key,
			Camelot:          SafeDefaults.Camelot,
			KeyConfidence:    SafeDefaults.KeyConfidence,
			Mode:             "major",
			PrimaryMood:      SafeDefaults.PrimaryMood,
			MoodConfidence:   SafeDefaults.MoodConfidence,
			MoodScores:       map[Mood]float64{MoodNeutral: 1.0},
			EnergyLevel:      SafeDefaults.EnergyLevel,
			BPMCategory:      SafeDefaults.BPMCategory,
		},
		Errors: errs,
	}
}

// ToRecord converts the typed Analysis into the §6 wire shape. This is the
// only function in the module permitted to produce AnalysisRecord values.
func (a *Analysis) ToRecord(compatibleKeys []string) *AnalysisRecord {
	filename := a.FilePath
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '/' || filename[i] == '\\' {
			filename = filename[i+1:]
			break
		}
	}

	return &AnalysisRecord{
		FilePath: a.FilePath,
		Filename: filename,
		Status:   a.Status,
		Features: a.Features,
		Metadata: a.Metadata,
		Camelot: CamelotInfo{
			Key:            a.Features.KeyName,
			Camelot:        a.Features.Camelot,
			KeyConfidence:  a.Features.KeyConfidence,
			CompatibleKeys: compatibleKeys,
		},
		MoodInfo: MoodInfo{
			PrimaryMood: a.Features.PrimaryMood,
			Confidence:  a.Features.MoodConfidence,
			Scores:      a.Features.MoodScores,
		},
		DerivedMetrics: DerivedMetrics{
			EnergyLevel:       a.Features.EnergyLevel,
			BPMCategory:       a.Features.BPMCategory,
			EstimatedMood:     a.Features.PrimaryMood,
			DanceabilityLevel: danceabilityLevel(a.Features.Danceability),
		},
		TimeSeriesFeatures: a.TimeSeries,
		Errors:             a.Errors,
		Version:            wireVersion,
	}
}

func danceabilityLevel(d float64) string {
	switch {
	case d >= 0.7:
		return "high"
	case d >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// Exporter is the contract an external export writer (m3u/csv/json/
// Rekordbox XML) must satisfy. The engine depends only on this interface —
// concrete writers are out of core scope per spec §1 and live outside this
// module.
type Exporter interface {
	Export(playlistName string, records []AnalysisRecord) error
}

// Clamp restricts v to [lo, hi], the range-clamping behaviour spec §3
// requires for every numeric GlobalFeatures field.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
