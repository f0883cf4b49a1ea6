package rag

import "math"

// Similarity converts a raw backend score into a similarity in [0, 1].
// Distances become 1 - distance; similarities pass through. The result is
// clamped so anti-correlated vectors (distance > 1) report 0 rather than a
// negative relevance.
func Similarity(score float32, kind ScoreKind) float64 {
	s := float64(score)
	if kind == ScoreDistance {
		s = 1 - s
	}
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// round4 rounds v to four decimal places for presentation.
func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
