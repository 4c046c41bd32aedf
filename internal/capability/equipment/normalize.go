package equipment

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// canonicalNames is the vocabulary equipment detections are normalized
// against. Names use lowercase snake_case, matching what the detection
// prompt asks the vision model to emit.
var canonicalNames = []string{
	"dumbbells",
	"barbell",
	"kettlebell",
	"bench",
	"pull_up_bar",
	"squat_rack",
	"treadmill",
	"rowing_machine",
	"exercise_bike",
	"resistance_bands",
	"jump_rope",
	"medicine_ball",
	"plyo_box",
	"yoga_mat",
	"foam_roller",
	"ab_wheel",
	"battle_ropes",
	"cable_machine",
	"weight_plates",
	"trx_straps",
}

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// Normalize maps a raw model-emitted equipment name onto the canonical
// vocabulary. Matching runs in three stages: exact match after cleanup,
// Double Metaphone overlap ranked by Jaro-Winkler, then a pure Jaro-Winkler
// fallback with a stricter threshold. Unmatched names are returned cleaned
// but otherwise unchanged so novel equipment is not silently dropped.
func Normalize(raw string) string {
	cleaned := clean(raw)
	if cleaned == "" {
		return ""
	}

	for _, name := range canonicalNames {
		if cleaned == name {
			return name
		}
	}

	inputCodes := metaphoneCodes(cleaned)

	best := ""
	bestScore := 0.0
	bestPhonetic := false

	for _, name := range canonicalNames {
		score := matchr.JaroWinkler(flatten(cleaned), flatten(name), false)
		phonetic := codesOverlap(inputCodes, metaphoneCodes(name))

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = name, score, true
			}
		case !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
			best, bestScore = name, score
		}
	}

	if best != "" {
		return best
	}
	return cleaned
}

// NormalizeAll normalizes every name, dropping empties and duplicates while
// preserving first-seen order.
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		n := Normalize(r)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// clean lowercases and converts separators to underscores.
func clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.Join(strings.Fields(s), "_")
	return strings.Trim(s, "_")
}

// flatten removes underscores so similarity scoring compares letters only.
func flatten(s string) string {
	return strings.ReplaceAll(s, "_", "")
}

// metaphoneCodes returns the union of Double Metaphone codes across all
// underscore-separated tokens.
func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, t := range strings.Split(s, "_") {
		p, sec := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
