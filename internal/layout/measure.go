package layout

import (
	"fmt"
	"os"
	"sync"
	"unicode"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/width"
)

// Measurer reports text extents in PDF points for a given font size.
type Measurer interface {
	TextWidth(s string, size float64) float64
	// Ascent is the distance from the top of a line to its baseline.
	Ascent(size float64) float64
	// LineHeight is the baseline-to-baseline distance.
	LineHeight(size float64) float64
}

// isWide reports whether r occupies a full em in CJK typesetting.
func isWide(r rune) bool {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return true
	}
	return false
}

// HeuristicMeasurer approximates widths without font data: wide east-asian
// runes are 1em, spaces 0.25em, everything else 0.5em.
type HeuristicMeasurer struct {
	LineSpacing float64 // line height in em, default 1.2
}

func (h HeuristicMeasurer) runeWidth(r rune) float64 {
	switch {
	case isWide(r):
		return 1.0
	case unicode.IsSpace(r):
		return 0.25
	default:
		return 0.5
	}
}

// TextWidth implements Measurer.
func (h HeuristicMeasurer) TextWidth(s string, size float64) float64 {
	var w float64
	for _, r := range s {
		w += h.runeWidth(r)
	}
	return w * size
}

// Ascent implements Measurer.
func (h HeuristicMeasurer) Ascent(size float64) float64 { return 0.9 * size }

// LineHeight implements Measurer.
func (h HeuristicMeasurer) LineHeight(size float64) float64 {
	if h.LineSpacing > 0 {
		return h.LineSpacing * size
	}
	return 1.2 * size
}

// FontMeasurer measures with the glyph advances of a TrueType/OpenType font.
// Runes the font has no glyph for fall back to the heuristic widths.
type FontMeasurer struct {
	mu       sync.Mutex
	font     *sfnt.Font
	buf      sfnt.Buffer
	ppem     fixed.Int26_6
	upem     float64
	advances map[rune]float64 // em units

	ascent     float64 // em units
	lineHeight float64 // em units
	fallback   HeuristicMeasurer
}

// LoadFontMeasurer reads a .ttf/.otf file, or face index of a .ttc.
func LoadFontMeasurer(path string, index int) (*FontMeasurer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	return NewFontMeasurerFace(data, index)
}

// NewFontMeasurer parses font data. Collections use their first face.
func NewFontMeasurer(data []byte) (*FontMeasurer, error) {
	return NewFontMeasurerFace(data, 0)
}

// NewFontMeasurerFace parses font data, taking face index of a collection.
func NewFontMeasurerFace(data []byte, index int) (*FontMeasurer, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		coll, cerr := sfnt.ParseCollection(data)
		if cerr != nil {
			return nil, fmt.Errorf("parse font: %w", err)
		}
		if index < 0 || index >= coll.NumFonts() {
			return nil, fmt.Errorf("font face %d out of range (%d faces)", index, coll.NumFonts())
		}
		if f, err = coll.Font(index); err != nil {
			return nil, fmt.Errorf("parse font collection: %w", err)
		}
	}

	upem := f.UnitsPerEm()
	if upem == 0 {
		return nil, fmt.Errorf("invalid unitsPerEm")
	}
	m := &FontMeasurer{
		font:     f,
		ppem:     fixed.Int26_6(upem << 6),
		upem:     float64(upem),
		advances: make(map[rune]float64),
	}

	metrics, err := f.Metrics(&m.buf, m.ppem, xfont.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("font metrics: %w", err)
	}
	m.ascent = m.toEm(metrics.Ascent)
	m.lineHeight = m.toEm(metrics.Ascent + metrics.Descent)
	if m.ascent <= 0 || m.lineHeight <= 0 {
		m.ascent, m.lineHeight = 0.9, 1.2
	}
	return m, nil
}

func (m *FontMeasurer) toEm(v fixed.Int26_6) float64 {
	return float64(v) / (64.0 * m.upem)
}

func (m *FontMeasurer) advance(r rune) float64 {
	if adv, ok := m.advances[r]; ok {
		return adv
	}
	adv := m.fallback.runeWidth(r)
	if idx, err := m.font.GlyphIndex(&m.buf, r); err == nil && idx != 0 {
		if a, err := m.font.GlyphAdvance(&m.buf, idx, m.ppem, xfont.HintingNone); err == nil {
			adv = m.toEm(a)
		}
	}
	m.advances[r] = adv
	return adv
}

// HasGlyph reports whether the font maps r to a real glyph.
func (m *FontMeasurer) HasGlyph(r rune) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.font.GlyphIndex(&m.buf, r)
	return err == nil && idx != 0
}

// TextWidth implements Measurer.
func (m *FontMeasurer) TextWidth(s string, size float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var w float64
	for _, r := range s {
		w += m.advance(r)
	}
	return w * size
}

// Ascent implements Measurer.
func (m *FontMeasurer) Ascent(size float64) float64 { return m.ascent * size }

// LineHeight implements Measurer.
func (m *FontMeasurer) LineHeight(size float64) float64 { return m.lineHeight * size }
