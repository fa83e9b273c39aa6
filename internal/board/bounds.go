// Package board turns raw drag deltas into bounded, persisted card positions.
package board

import "math"

// Bounds is the usable coordinate envelope. It extends slightly past the
// visible canvas so a card dragged against an edge does not feel stuck.
type Bounds struct {
	XMin, YMin int
	XMax, YMax int
}

// NewBounds builds the envelope for a width x height canvas with the given
// overflow margin on every side.
func NewBounds(width, height, margin int) Bounds {
	return Bounds{
		XMin: -margin,
		YMin: -margin,
		XMax: width + margin,
		YMax: height + margin,
	}
}

// Clamp rounds a raw position to integers and forces it inside the envelope.
func (b Bounds) Clamp(x, y float64) (int, int) {
	return clamp(int(math.Round(x)), b.XMin, b.XMax),
		clamp(int(math.Round(y)), b.YMin, b.YMax)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
