package kernel

import (
	"os"

	"github.com/dhowden/tag"

	"github.com/loomtrack/engine/internal/contract"
)

// ExtractMetadata reads container tags (title/artist/album/genre/year) with
// github.com/dhowden/tag, matching the teacher's note that track metadata is
// "pulled from container tags" rather than parsed per-format by hand.
// duration and fileSize come from the caller since tag does not decode audio.
func ExtractMetadata(path string, duration float64, fileSize int64, extension string) (contract.Metadata, error) {
	md := contract.Metadata{
		Duration:  duration,
		FileSize:  fileSize,
		Extension: extension,
	}

	f, err := os.Open(path)
	if err != nil {
		return md, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// Missing or unreadable tags are not fatal; the track is analyzed
		// with whatever metadata is available.
		return md, nil
	}

	md.Title = m.Title()
	md.Artist = m.Artist()
	md.Album = m.Album()
	md.Genre = m.Genre()
	if year := m.Year(); year > 0 {
		md.Year = year
	}
	return md, nil
}
