package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/loomtrack/engine/internal/contract"
)

func nowUnix() int64 { return time.Now().Unix() }

// IsCached reports whether filePath already has both a track and a
// features row, consulting the in-process LRU before the database.
func (s *Store) IsCached(filePath string) (bool, error) {
	s.mu.Lock()
	if hit, ok := s.cacheHits.Get(filePath); ok {
		s.mu.Unlock()
		return hit, nil
	}
	s.mu.Unlock()

	var cached bool
	row := s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM tracks t
			JOIN global_features gf ON gf.track_id = t.id
			WHERE t.file_path = ?
		)
	`, filePath)
	if err := row.Scan(&cached); err != nil {
		return false, storeErr("is_cached", err)
	}

	s.mu.Lock()
	s.cacheHits.Add(filePath, cached)
	s.mu.Unlock()
	return cached, nil
}

// Save atomically upserts a track, its features, and its time-series
// points. Either all three writes commit or none do (spec §4.2
// transactional invariant).
func (s *Store) Save(filePath, fingerprint string, a *contract.Analysis) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, storeErr("save", err)
	}
	defer tx.Rollback()

	now := nowUnix()
	m := a.Metadata

	var trackID int64
	row := tx.QueryRow(`SELECT id FROM tracks WHERE file_path = ?`, filePath)
	err = row.Scan(&trackID)
	switch {
	case err == sql.ErrNoRows:
		result, err := tx.Exec(`
			INSERT INTO tracks (file_path, fingerprint, title, artist, album, genre, year,
				duration_s, file_size, extension, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, filePath, fingerprint, m.Title, m.Artist, m.Album, m.Genre, nullableYear(m.Year),
			m.Duration, m.FileSize, m.Extension, now, now)
		if err != nil {
			return false, storeErr("save: insert track", err)
		}
		trackID, err = result.LastInsertId()
		if err != nil {
			return false, storeErr("save: insert track", err)
		}
	case err != nil:
		return false, storeErr("save: lookup track", err)
	default:
		_, err = tx.Exec(`
			UPDATE tracks SET fingerprint = ?, title = ?, artist = ?, album = ?, genre = ?,
				year = ?, duration_s = ?, file_size = ?, extension = ?, updated_at = ?
			WHERE id = ?
		`, fingerprint, m.Title, m.Artist, m.Album, m.Genre, nullableYear(m.Year),
			m.Duration, m.FileSize, m.Extension, now, trackID)
		if err != nil {
			return false, storeErr("save: update track", err)
		}
	}

	scoresJSON, err := json.Marshal(a.Features.MoodScores)
	if err != nil {
		return false, storeErr("save: marshal mood scores", err)
	}
	errsJSON, err := json.Marshal(a.Errors)
	if err != nil {
		return false, storeErr("save: marshal errors", err)
	}

	f := a.Features
	_, err = tx.Exec(`
		INSERT INTO global_features (track_id, bpm, energy, valence, danceability, loudness,
			spectral_centroid, zero_crossing_rate, mfcc_variance, key_name, camelot,
			key_confidence, mode, primary_mood, mood_confidence, mood_scores_json,
			energy_level, bpm_category, status, errors_json, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			bpm = excluded.bpm, energy = excluded.energy, valence = excluded.valence,
			danceability = excluded.danceability, loudness = excluded.loudness,
			spectral_centroid = excluded.spectral_centroid,
			zero_crossing_rate = excluded.zero_crossing_rate,
			mfcc_variance = excluded.mfcc_variance, key_name = excluded.key_name,
			camelot = excluded.camelot, key_confidence = excluded.key_confidence,
			mode = excluded.mode, primary_mood = excluded.primary_mood,
			mood_confidence = excluded.mood_confidence,
			mood_scores_json = excluded.mood_scores_json,
			energy_level = excluded.energy_level, bpm_category = excluded.bpm_category,
			status = excluded.status, errors_json = excluded.errors_json,
			analyzed_at = excluded.analyzed_at
	`, trackID, f.BPM, f.Energy, f.Valence, f.Danceability, f.Loudness, f.SpectralCentroid,
		f.ZeroCrossingRate, f.MFCCVariance, f.KeyName, f.Camelot, f.KeyConfidence, f.Mode,
		string(f.PrimaryMood), f.MoodConfidence, string(scoresJSON), string(f.EnergyLevel),
		string(f.BPMCategory), string(a.Status), string(errsJSON), now)
	if err != nil {
		return false, storeErr("save: upsert features", err)
	}

	// Replace time-series atomically: delete-all-then-insert in the same tx.
	if _, err := tx.Exec(`DELETE FROM time_series WHERE track_id = ?`, trackID); err != nil {
		return false, storeErr("save: clear time series", err)
	}
	for _, p := range a.TimeSeries {
		_, err := tx.Exec(`
			INSERT INTO time_series (track_id, timestamp_s, energy_value, rms_energy,
				brightness_value, spectral_rolloff)
			VALUES (?, ?, ?, ?, ?, ?)
		`, trackID, p.TimestampS, p.EnergyValue, p.RMSEnergy, p.BrightnessValue, p.SpectralRolloff)
		if err != nil {
			return false, storeErr("save: insert time series", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("save: commit", err)
	}

	s.mu.Lock()
	s.cacheHits.Add(filePath, true)
	s.mu.Unlock()
	return true, nil
}

func nullableYear(year int) any {
	if year <= 0 {
		return nil
	}
	return year
}

// Load joins track + features + time-series for filePath. Returns
// ok=false if no track exists at all. Missing numeric feature fields
// resolve to spec §7 safe defaults rather than erroring.
func (s *Store) Load(filePath string) (*contract.Analysis, bool, error) {
	var trackID int64
	var fingerprint string
	m := contract.Metadata{}
	var title, artist, album, genre, extension sql.NullString
	var year sql.NullInt64
	var createdAt, updatedAt int64

	row := s.db.QueryRow(`
		SELECT id, fingerprint, title, artist, album, genre, year, duration_s,
			file_size, extension, created_at, updated_at
		FROM tracks WHERE file_path = ?
	`, filePath)
	err := row.Scan(&trackID, &fingerprint, &title, &artist, &album, &genre, &year,
		&m.Duration, &m.FileSize, &extension, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("load: track", err)
	}

	m.Title = title.String
	m.Artist = artist.String
	m.Album = album.String
	m.Genre = genre.String
	m.Extension = extension.String
	if year.Valid {
		m.Year = int(year.Int64)
	}
	m.AnalyzedAt = updatedAt

	analysis := &contract.Analysis{FilePath: filePath, Metadata: m}

	f := contract.GlobalFeatures{}
	var mode, primaryMood, energyLevel, bpmCategory, status, scoresJSON, errsJSON string
	row = s.db.QueryRow(`
		SELECT bpm, energy, valence, danceability, loudness, spectral_centroid,
			zero_crossing_rate, mfcc_variance, key_name, camelot, key_confidence, mode,
			primary_mood, mood_confidence, mood_scores_json, energy_level, bpm_category,
			status, errors_json
		FROM global_features WHERE track_id = ?
	`, trackID)
	err = row.Scan(&f.BPM, &f.Energy, &f.Valence, &f.Danceability, &f.Loudness,
		&f.SpectralCentroid, &f.ZeroCrossingRate, &f.MFCCVariance, &f.KeyName, &f.Camelot,
		&f.KeyConfidence, &mode, &primaryMood, &f.MoodConfidence, &scoresJSON, &energyLevel,
		&bpmCategory, &status, &errsJSON)
	switch {
	case err == sql.ErrNoRows:
		// Track exists without features: fill safe defaults, spec §7.
		analysis.Features = defaultFeatures()
		analysis.Status = contract.StatusFallback
		return analysis, true, nil
	case err != nil:
		return nil, false, storeErr("load: features", err)
	}

	f.Mode = mode
	f.PrimaryMood = contract.Mood(primaryMood)
	f.EnergyLevel = contract.EnergyLevel(energyLevel)
	f.BPMCategory = contract.BPMCategory(bpmCategory)
	_ = json.Unmarshal([]byte(scoresJSON), &f.MoodScores)
	if f.MoodScores == nil {
		f.MoodScores = map[contract.Mood]float64{contract.MoodNeutral: 1.0}
	}
	var errs []string
	_ = json.Unmarshal([]byte(errsJSON), &errs)

	analysis.Features = f
	analysis.Status = contract.Status(status)
	analysis.Errors = errs

	rows, err := s.db.Query(`
		SELECT timestamp_s, energy_value, rms_energy, brightness_value, spectral_rolloff
		FROM time_series WHERE track_id = ? ORDER BY timestamp_s ASC
	`, trackID)
	if err != nil {
		return nil, false, storeErr("load: time series", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p contract.TimeSeriesPoint
		if err := rows.Scan(&p.TimestampS, &p.EnergyValue, &p.RMSEnergy, &p.BrightnessValue, &p.SpectralRolloff); err != nil {
			return nil, false, storeErr("load: time series row", err)
		}
		analysis.TimeSeries = append(analysis.TimeSeries, p)
	}
	if err := rows.Err(); err != nil {
		return nil, false, storeErr("load: time series rows", err)
	}

	return analysis, true, nil
}

func defaultFeatures() contract.GlobalFeatures {
	d := contract.SafeDefaults
	return contract.GlobalFeatures{
		BPM: d.BPM, Energy: d.Energy, Valence: d.Valence, Danceability: d.Danceability,
		Loudness: d.Loudness, SpectralCentroid: d.SpectralCentroid, ZeroCrossingRate: d.ZCR,
		MFCCVariance: d.MFCCVariance, KeyName: d.Key, Camelot: d.Camelot,
		KeyConfidence: d.KeyConfidence, Mode: "major", PrimaryMood: d.PrimaryMood,
		MoodConfidence: d.MoodConfidence, MoodScores: map[contract.Mood]float64{contract.MoodNeutral: 1.0},
		EnergyLevel: d.EnergyLevel, BPMCategory: d.BPMCategory,
	}
}
