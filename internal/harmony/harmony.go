// Package harmony implements the Camelot wheel: key <-> Camelot code
// mapping and the compatibility/scoring relation used by the playlist
// optimizer. Grounded on the teacher's planner.keyCompatibility and
// similarity.computeKeySimilarity, unified here to remove the duplication
// those two packages had.
package harmony

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var camelotPattern = regexp.MustCompile(`^(1[0-2]|[1-9])[AB]$`)

// chromaticKeys maps a tonic name (as it would appear in "C Major"/"Am") to
// its chromatic index, 0=C .. 11=B. Used for ChromaticIndex, the ML
// backend's key_numeric feature (spec §9 Open Question 4).
var chromaticKeys = map[string]int{
	"C": 0, "C#": 1, "DB": 1, "D": 2, "D#": 3, "EB": 3, "E": 4, "F": 5,
	"F#": 6, "GB": 6, "G": 7, "G#": 8, "AB": 8, "A": 9, "A#": 10, "BB": 10, "B": 11,
}

// camelotTable maps "<tonic><mode>" to its Camelot code. Built once from
// the standard wheel ordering (major keys clockwise from 1B = B, which
// places C at 8B).
var camelotTable = buildCamelotTable()

func buildCamelotTable() map[string]string {
	majorOrder := []string{"B", "F#", "C#", "G#", "D#", "A#", "F", "C", "G", "D", "A", "E"}
	table := map[string]string{}
	for i, tonic := range majorOrder {
		num := i + 1
		table[tonic+":major"] = fmt.Sprintf("%dB", num)
		// relative minor is a minor third below the major tonic, i.e. the
		// degree at the same Camelot number but "A".
		table[relativeMinor(tonic)+":minor"] = fmt.Sprintf("%dA", num)
	}
	return table
}

func relativeMinor(majorTonic string) string {
	idx, ok := chromaticKeys[strings.ToUpper(majorTonic)]
	if !ok {
		return majorTonic
	}
	minorIdx := (idx - 3 + 12) % 12
	for name, i := range chromaticKeys {
		if i == minorIdx && len(name) <= 2 {
			return canonicalName(name)
		}
	}
	return majorTonic
}

func canonicalName(name string) string {
	switch name {
	case "DB":
		return "C#"
	case "EB":
		return "D#"
	case "GB":
		return "F#"
	case "AB":
		return "G#"
	case "BB":
		return "A#"
	default:
		return name
	}
}

// ChromaticIndex returns the 0..11 chromatic index of a key's tonic, e.g.
// "C" -> 0, "A#" -> 10. Unknown tonics return -1.
func ChromaticIndex(tonic string) int {
	if idx, ok := chromaticKeys[strings.ToUpper(tonic)]; ok {
		return idx
	}
	return -1
}

// ToCamelot converts a key string such as "C Major", "Am", "F#", "Bbm" to
// its Camelot code. Returns ("", false) if the key cannot be resolved.
func ToCamelot(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	if camelotPattern.MatchString(strings.ToUpper(key)) {
		return strings.ToUpper(key), true
	}

	tonic, mode := parseKeyString(key)
	if tonic == "" {
		return "", false
	}
	code, ok := camelotTable[canonicalName(strings.ToUpper(tonic))+":"+mode]
	return code, ok
}

func parseKeyString(key string) (tonic, mode string) {
	key = strings.TrimSpace(key)
	lower := strings.ToLower(key)

	switch {
	case strings.HasSuffix(lower, " major"):
		return strings.TrimSuffix(key, key[len(key)-6:]), "major"
	case strings.HasSuffix(lower, " minor"):
		return strings.TrimSuffix(key, key[len(key)-6:]), "minor"
	case strings.HasSuffix(key, "m") && !strings.HasSuffix(lower, "maj"):
		return strings.TrimSuffix(key, "m"), "minor"
	default:
		return key, "major"
	}
}

// ParseCamelot extracts the (number, letter) pair from a Camelot code such
// as "8A". ok is false if value does not match the Camelot syntax.
func ParseCamelot(value string) (num int, letter string, ok bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if !camelotPattern.MatchString(value) {
		return 0, "", false
	}
	letter = value[len(value)-1:]
	num, _ = strconv.Atoi(value[:len(value)-1])
	return num, letter, true
}

// Valid reports whether code matches the Camelot syntax ^(1[0-2]|[1-9])[AB]$.
func Valid(code string) bool {
	return camelotPattern.MatchString(strings.ToUpper(strings.TrimSpace(code)))
}

// Compatible returns the tight compatibility tier for code: same-letter
// ±1 around the 12-cycle plus the same-number other-letter (relative
// major/minor). This is the default tier per the spec's resolved Open
// Question (tight ±1 + relative pair).
func Compatible(code string) []string {
	num, letter, ok := ParseCamelot(code)
	if !ok {
		return nil
	}
	other := "A"
	if letter == "A" {
		other = "B"
	}
	return []string{
		fmt.Sprintf("%d%s", wrap(num-1), letter),
		fmt.Sprintf("%d%s", wrap(num+1), letter),
		fmt.Sprintf("%d%s", num, other),
	}
}

func wrap(n int) int {
	n = ((n-1)%12 + 12) % 12
	return n + 1
}

// Score returns the compatibility score in [0,1] between two Camelot
// codes: 1.0 equal, 0.9 relative major/minor, 0.7 for ±1 neighbours (and
// the relaxed ±2 tier), 0.1 otherwise. Symmetric: Score(a,b) == Score(b,a),
// and Score(x,x) == 1.
func Score(a, b string) float64 {
	numA, letterA, okA := ParseCamelot(a)
	numB, letterB, okB := ParseCamelot(b)
	if !okA || !okB {
		return 0.1
	}

	if numA == numB && letterA == letterB {
		return 1.0
	}
	if numA == numB && letterA != letterB {
		return 0.9
	}

	diff := wheelDistance(numA, numB)
	if letterA == letterB && diff == 1 {
		return 0.7
	}
	if letterA == letterB && diff == 2 {
		return 0.7 // relaxed tier
	}

	return 0.1
}

func wheelDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 6 {
		d = 12 - d
	}
	return d
}
