// Package layout re-flows translated text into the bounding box of the block
// it replaces, shrinking the font size until it fits.
package layout

import (
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Rect is an axis-aligned rectangle in PDF user space (origin bottom-left, y up).
type Rect struct {
	X0, Y0, X1, Y1 float64
}

// infiniteLimit is the coordinate magnitude treated as unbounded.
const infiniteLimit = 1 << 31

// Width returns X1-X0.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns Y1-Y0.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool {
	return !(r.X0 < r.X1) || !(r.Y0 < r.Y1)
}

// IsInfinite reports whether any coordinate is NaN, infinite, or beyond the
// range a page can hold.
func (r Rect) IsInfinite() bool {
	for _, v := range [...]float64{r.X0, r.Y0, r.X1, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= infiniteLimit {
			return true
		}
	}
	return false
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u2028", "\n", "\u2029", "\n")

// NormalizeText composes text to NFC, collapses whitespace runs inside each
// line to one space and trims each line. Line breaks are kept.
func NormalizeText(text string) string {
	text = lineBreaks.Replace(norm.NFC.String(text))
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

// MeanFontSize returns the arithmetic mean of sizes, or 0 for none.
func MeanFontSize(sizes []float64) float64 {
	if len(sizes) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sizes {
		sum += s
	}
	return sum / float64(len(sizes))
}
