package store

import (
	"fmt"
	"strings"

	"github.com/loomtrack/engine/internal/contract"
)

// SortKey is one of the §4.2 list() sort keys.
type SortKey string

const (
	SortFilename   SortKey = "filename"
	SortTitle      SortKey = "title"
	SortArtist     SortKey = "artist"
	SortBPM        SortKey = "bpm"
	SortEnergy     SortKey = "energy"
	SortKey_       SortKey = "key"
	SortDuration   SortKey = "duration"
	SortAnalyzedAt SortKey = "analyzed_at"
)

var sortColumns = map[SortKey]string{
	SortFilename:   "t.file_path",
	SortTitle:      "t.title",
	SortArtist:     "t.artist",
	SortBPM:        "gf.bpm",
	SortEnergy:     "gf.energy",
	SortKey_:       "gf.camelot",
	SortDuration:   "t.duration_s",
	SortAnalyzedAt: "gf.analyzed_at",
}

// Filters narrows List per spec §4.2: "{artist substring, genre substring,
// bpm range, energy range, mood equality, free-text search}".
type Filters struct {
	ArtistSubstring string
	GenreSubstring  string
	BPMMin, BPMMax  float64 // applied only when HasBPMRange is set
	EnergyMin       float64
	EnergyMax       float64
	HasBPMRange     bool
	HasEnergyRange  bool
	Mood            contract.Mood
	Search          string // free text over title/artist/filename
	Sort            SortKey
	Descending      bool
}

// TrackSummary is one row of a List() result: enough to render a library
// browser without loading the full time-series payload.
type TrackSummary struct {
	FilePath      string
	Title         string
	Artist        string
	Album         string
	Genre         string
	DurationS     float64
	BPM           float64
	Energy        float64
	Camelot       string
	PrimaryMood   contract.Mood
	AnalyzedAt    int64
}

// List returns track summaries matching filters, paginated by limit/offset.
func (s *Store) List(filters Filters, limit, offset int) ([]TrackSummary, error) {
	conditions := []string{}
	args := []any{}

	if filters.ArtistSubstring != "" {
		conditions = append(conditions, "t.artist LIKE ?")
		args = append(args, "%"+filters.ArtistSubstring+"%")
	}
	if filters.GenreSubstring != "" {
		conditions = append(conditions, "t.genre LIKE ?")
		args = append(args, "%"+filters.GenreSubstring+"%")
	}
	if filters.HasBPMRange {
		conditions = append(conditions, "gf.bpm BETWEEN ? AND ?")
		args = append(args, filters.BPMMin, filters.BPMMax)
	}
	if filters.HasEnergyRange {
		conditions = append(conditions, "gf.energy BETWEEN ? AND ?")
		args = append(args, filters.EnergyMin, filters.EnergyMax)
	}
	if filters.Mood != "" {
		conditions = append(conditions, "gf.primary_mood = ?")
		args = append(args, string(filters.Mood))
	}
	if filters.Search != "" {
		conditions = append(conditions, "(t.title LIKE ? OR t.artist LIKE ? OR t.file_path LIKE ?)")
		pattern := "%" + filters.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	query := `
		SELECT t.file_path, COALESCE(t.title, ''), COALESCE(t.artist, ''),
			COALESCE(t.album, ''), COALESCE(t.genre, ''), t.duration_s,
			COALESCE(gf.bpm, 0), COALESCE(gf.energy, 0), COALESCE(gf.camelot, ''),
			COALESCE(gf.primary_mood, ''), COALESCE(gf.analyzed_at, 0)
		FROM tracks t
		LEFT JOIN global_features gf ON gf.track_id = t.id
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	column, ok := sortColumns[filters.Sort]
	if !ok {
		column = sortColumns[SortAnalyzedAt]
	}
	direction := "ASC"
	if filters.Descending {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", column, direction)

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var row TrackSummary
		var mood string
		if err := rows.Scan(&row.FilePath, &row.Title, &row.Artist, &row.Album, &row.Genre,
			&row.DurationS, &row.BPM, &row.Energy, &row.Camelot, &mood, &row.AnalyzedAt); err != nil {
			return nil, storeErr("list: scan", err)
		}
		row.PrimaryMood = contract.Mood(mood)
		out = append(out, row)
	}
	return out, storeErr("list: rows", rows.Err())
}
