package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDistance reads a distance typed by the operator. Anything that is not
// a number is an ErrInvalidDistance; range checks happen on record.
func ParseDistance(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDistance, text)
	}
	return v, nil
}

// PointPair is a committed calibration pair with its real-world distance in meters.
type PointPair struct {
	Point1   Point   `json:"point1"`
	Point2   Point   `json:"point2"`
	Distance float64 `json:"distance"`
	Surface  Surface `json:"surface"`
}

// PixelLength is the length of the pair in native pixels.
func (pp PointPair) PixelLength() float64 {
	return pp.Point1.Distance(pp.Point2)
}

// MetersPerPixel is the ground scale implied by this pair alone.
// It returns 0 for a degenerate pair whose points coincide.
func (pp PointPair) MetersPerPixel() float64 {
	px := pp.PixelLength()
	if px == 0 {
		return 0
	}
	return pp.Distance / px
}

// CalibrationSet is the ordered list of committed pairs for a session.
// Insertion order matters: the last pair feeds bird's-eye requests.
type CalibrationSet struct {
	Pairs []PointPair `json:"pairs"`
}

func (cs CalibrationSet) Len() int {
	return len(cs.Pairs)
}

// MostRecent returns the last committed pair, if any.
func (cs CalibrationSet) MostRecent() (PointPair, bool) {
	if len(cs.Pairs) == 0 {
		return PointPair{}, false
	}
	return cs.Pairs[len(cs.Pairs)-1], true
}

// With returns a copy of the set with pp appended.
func (cs CalibrationSet) With(pp PointPair) CalibrationSet {
	pairs := make([]PointPair, 0, len(cs.Pairs)+1)
	pairs = append(pairs, cs.Pairs...)
	pairs = append(pairs, pp)
	return CalibrationSet{Pairs: pairs}
}

// OnSurface returns a copy holding only the pairs measured on surface.
func (cs CalibrationSet) OnSurface(surface Surface) CalibrationSet {
	var pairs []PointPair
	for _, pp := range cs.Pairs {
		if pp.Surface == surface {
			pairs = append(pairs, pp)
		}
	}
	return CalibrationSet{Pairs: pairs}
}

// MetersPerPixel averages the per-pair scale over every non-degenerate pair.
func (cs CalibrationSet) MetersPerPixel() float64 {
	var sum float64
	var n int
	for _, pp := range cs.Pairs {
		if m := pp.MetersPerPixel(); m > 0 {
			sum += m
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
