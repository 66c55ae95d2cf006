package layout

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrDoesNotFit means the text overflows the rectangle at the given size.
var ErrDoesNotFit = errors.New("layout: text does not fit rectangle")

const (
	DefaultShrinkFactor = 0.9
	DefaultMinFontSize  = 1.0
)

// Line is one placed line of text; (X, Y) is its baseline origin.
type Line struct {
	Text  string
	X, Y  float64
	Width float64
}

// closing punctuation never starts a line
const noLineStart = "，。、；：！？）》」』】〉,.;:!?)]}%"

type token struct {
	text  string
	space bool
}

// tokenize splits a paragraph into break units: latin words, single wide
// runes (with trailing closing punctuation glued on) and spaces.
func tokenize(para string) []token {
	var tokens []token
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, token{text: word.String()})
			word.Reset()
		}
	}

	for _, r := range para {
		switch {
		case unicode.IsSpace(r):
			flush()
			if n := len(tokens); n == 0 || !tokens[n-1].space {
				tokens = append(tokens, token{text: " ", space: true})
			}
		case strings.ContainsRune(noLineStart, r) && word.Len() == 0 && len(tokens) > 0 && !tokens[len(tokens)-1].space:
			tokens[len(tokens)-1].text += string(r)
		case isWide(r):
			flush()
			tokens = append(tokens, token{text: string(r)})
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// wrapParagraph greedily breaks para into lines no wider than maxWidth.
// Words wider than a line are split between runes.
func wrapParagraph(m Measurer, para string, size, maxWidth float64) ([]string, error) {
	var (
		lines []string
		cur   strings.Builder
		curW  float64
	)
	spaceW := m.TextWidth(" ", size)
	pendingSpace := false

	emit := func() {
		lines = append(lines, cur.String())
		cur.Reset()
		curW = 0
		pendingSpace = false
	}

	for _, tok := range tokenize(para) {
		if tok.space {
			pendingSpace = cur.Len() > 0
			continue
		}

		w := m.TextWidth(tok.text, size)
		extra := w
		if pendingSpace {
			extra += spaceW
		}
		if cur.Len() > 0 && curW+extra <= maxWidth {
			if pendingSpace {
				cur.WriteByte(' ')
			}
			cur.WriteString(tok.text)
			curW += extra
			pendingSpace = false
			continue
		}
		if cur.Len() > 0 {
			emit()
		}
		pendingSpace = false

		if w <= maxWidth {
			cur.WriteString(tok.text)
			curW = w
			continue
		}

		// break an over-long token between runes
		for _, r := range tok.text {
			rw := m.TextWidth(string(r), size)
			if rw > maxWidth {
				return nil, ErrDoesNotFit
			}
			if curW+rw > maxWidth {
				emit()
			}
			cur.WriteRune(r)
			curW += rw
		}
	}
	if cur.Len() > 0 || len(lines) == 0 {
		emit()
	}
	return lines, nil
}

// FillTextbox lays text out left-aligned from the top of rect at size.
// Each "\n" starts a new line. It returns ErrDoesNotFit when a rune is wider
// than the rectangle or the lines overflow its height.
func FillTextbox(m Measurer, rect Rect, text string, size float64) ([]Line, error) {
	if size <= 0 || rect.IsEmpty() {
		return nil, ErrDoesNotFit
	}
	maxWidth := rect.Width()

	var texts []string
	for _, para := range strings.Split(text, "\n") {
		wrapped, err := wrapParagraph(m, para, size, maxWidth)
		if err != nil {
			return nil, err
		}
		texts = append(texts, wrapped...)
	}

	lineHeight := m.LineHeight(size)
	ascent := m.Ascent(size)
	descent := lineHeight - ascent
	if descent < 0 {
		descent = 0
	}
	needed := ascent + float64(len(texts)-1)*lineHeight + descent
	if needed > rect.Height() {
		return nil, ErrDoesNotFit
	}

	lines := make([]Line, 0, len(texts))
	y := rect.Y1 - ascent
	for _, t := range texts {
		if t != "" {
			lines = append(lines, Line{Text: t, X: rect.X0, Y: y, Width: m.TextWidth(t, size)})
		}
		y -= lineHeight
	}
	return lines, nil
}

// FitResult is the outcome of one block's fitting attempt.
type FitResult struct {
	Text     string  // normalized text
	FontSize float64 // last size tried; the fitted size when OK
	Lines    []Line
	OK       bool
	Attempts int
}

// Fitter shrinks the font size by ShrinkFactor until the text fits, giving
// up once the size is no longer above MinFontSize.
type Fitter struct {
	Measurer     Measurer
	ShrinkFactor float64
	MinFontSize  float64
}

// NewFitter returns a Fitter with the default shrink factor and floor.
func NewFitter(m Measurer) *Fitter {
	return &Fitter{Measurer: m, ShrinkFactor: DefaultShrinkFactor, MinFontSize: DefaultMinFontSize}
}

// Fit normalizes text and finds the largest size in the sequence
// initial, initial*f, initial*f², ... above the floor at which it fits rect.
// The number of attempts is bounded by log(floor/initial)/log(f)+1.
func (f *Fitter) Fit(text string, rect Rect, initial float64) FitResult {
	shrink := f.ShrinkFactor
	if shrink <= 0 || shrink >= 1 {
		shrink = DefaultShrinkFactor
	}
	floor := f.MinFontSize
	if floor <= 0 {
		floor = DefaultMinFontSize
	}

	res := FitResult{Text: NormalizeText(text), FontSize: initial}
	if utf8.RuneCountInString(strings.TrimSpace(res.Text)) == 0 {
		return res
	}

	for size := initial; size > floor; size *= shrink {
		res.Attempts++
		res.FontSize = size
		lines, err := FillTextbox(f.Measurer, rect, res.Text, size)
		if err == nil {
			res.Lines = lines
			res.OK = true
			return res
		}
	}
	return res
}
