package pdf

import (
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"pdf-translator/internal/layout"
)

// ContentSource yields structured page content, pages numbered from 1.
type ContentSource interface {
	NumPages() int
	Page(n int) (PageContent, error)
	Close() error
}

// US Letter, used when a page has no readable MediaBox.
var defaultPageBox = layout.Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}

// LedongthucSource reads page content with github.com/ledongthuc/pdf and
// groups the positioned glyphs into spans, lines and blocks.
type LedongthucSource struct {
	file   *os.File
	reader *pdf.Reader
}

// OpenLedongthucSource opens the PDF at path.
func OpenLedongthucSource(path string) (*LedongthucSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewPDFError(ErrPDFNotFound, "文件不存在，请检查路径", err)
		}
		return nil, NewPDFError(ErrPDFInvalid, "无法访问文件", err)
	}
	if info.IsDir() {
		return nil, NewPDFError(ErrPDFInvalid, "路径指向目录而非文件", nil)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "无法打开 PDF 文件", err)
	}
	return &LedongthucSource{file: f, reader: r}, nil
}

// NumPages returns the page count.
func (s *LedongthucSource) NumPages() int { return s.reader.NumPage() }

// Close releases the underlying file.
func (s *LedongthucSource) Close() error { return s.file.Close() }

// Page extracts page n. Malformed content streams are reported as
// EXTRACT_FAILED rather than crashing the run.
func (s *LedongthucSource) Page(n int) (content PageContent, err error) {
	if n < 1 || n > s.reader.NumPage() {
		return PageContent{}, NewPDFErrorWithPage(ErrExtractFailed, "页码超出范围", n, nil)
	}
	page := s.reader.Page(n)
	if page.V.IsNull() {
		return PageContent{Number: n, Box: defaultPageBox}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = NewPDFErrorWithPage(ErrExtractFailed, "解析页面内容失败", n, fmt.Errorf("%v", r))
		}
	}()

	texts := page.Content().Text
	glyphs := make([]glyph, 0, len(texts))
	for _, t := range texts {
		glyphs = append(glyphs, glyph{s: t.S, font: t.Font, size: t.FontSize, x: t.X, y: t.Y, w: t.W})
	}

	return PageContent{
		Number: n,
		Box:    mediaBox(page.V),
		Blocks: groupGlyphs(glyphs),
	}, nil
}

func mediaBox(v pdf.Value) layout.Rect {
	box := v.Key("MediaBox")
	if box.Kind() != pdf.Array || box.Len() < 4 {
		return defaultPageBox
	}
	r := layout.Rect{
		X0: box.Index(0).Float64(),
		Y0: box.Index(1).Float64(),
		X1: box.Index(2).Float64(),
		Y1: box.Index(3).Float64(),
	}
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	if r.IsEmpty() {
		return defaultPageBox
	}
	return r
}

// glyph is one positioned text fragment; (x, y) is its baseline origin.
type glyph struct {
	s    string
	font string
	size float64
	x, y float64
	w    float64
}

func (g glyph) width() float64 {
	if g.w > 0 {
		return g.w
	}
	// fonts without /Widths report zero advance
	return 0.5 * g.size * float64(utf8.RuneCountInString(g.s))
}

func (g glyph) bbox() layout.Rect {
	return layout.Rect{X0: g.x, Y0: g.y - 0.2*g.size, X1: g.x + g.width(), Y1: g.y + 0.8*g.size}
}

// Grouping thresholds, in multiples of the font size.
const (
	sameLineTolerance = 0.5  // baseline shift still on the same line
	wordGap           = 0.15 // horizontal gap that implies a space
	columnGap         = 3.0  // horizontal gap that starts a new line
	lineSpacingMax    = 1.6  // baseline distance still in the same block
	sizeRatioMax      = 1.2  // font size change that starts a new block
)

func union(a, b layout.Rect) layout.Rect {
	return layout.Rect{
		X0: math.Min(a.X0, b.X0),
		Y0: math.Min(a.Y0, b.Y0),
		X1: math.Max(a.X1, b.X1),
		Y1: math.Max(a.Y1, b.Y1),
	}
}

type lineBuilder struct {
	line     Line
	baseline float64
	size     float64 // largest font size on the line
	end      float64 // x where the last glyph ends
}

func (lb *lineBuilder) add(g glyph) {
	box := g.bbox()
	spans := lb.line.Spans
	if n := len(spans); n > 0 {
		last := &spans[n-1]
		gap := g.x - lb.end
		if gap > wordGap*g.size && !endsWithSpace(last.Text) && !startsWithSpace(g.s) {
			last.Text += " "
		}
		if last.Font == g.font && math.Abs(last.FontSize-g.size) < 0.01 {
			last.Text += g.s
			last.BBox = union(last.BBox, box)
			lb.line.BBox = union(lb.line.BBox, box)
			lb.end = box.X1
			lb.size = math.Max(lb.size, g.size)
			return
		}
	}
	lb.line.Spans = append(spans, Span{Text: g.s, Font: g.font, FontSize: g.size, BBox: box})
	if len(lb.line.Spans) == 1 {
		lb.line.BBox = box
	} else {
		lb.line.BBox = union(lb.line.BBox, box)
	}
	lb.end = box.X1
	lb.size = math.Max(lb.size, g.size)
}

// continues reports whether g extends the line rather than starting a new one.
func (lb *lineBuilder) continues(g glyph) bool {
	size := math.Max(lb.size, g.size)
	if math.Abs(g.y-lb.baseline) > sameLineTolerance*size {
		return false
	}
	if g.x < lb.end-size {
		return false
	}
	return g.x-lb.end <= columnGap*size
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsSpace(r)
}

// groupGlyphs builds blocks from glyphs in content-stream order: glyphs on a
// shared baseline form lines, and consecutive lines that are close, overlap
// horizontally and share a font size form a block. Lines inside a block end
// with a soft space so that concatenated span text keeps word boundaries.
func groupGlyphs(glyphs []glyph) []Block {
	var lines []lineBuilder
	var cur *lineBuilder
	for _, g := range glyphs {
		if g.s == "" || g.size <= 0 {
			continue
		}
		if cur == nil || !cur.continues(g) {
			if strings.TrimSpace(g.s) == "" {
				continue
			}
			lines = append(lines, lineBuilder{baseline: g.y})
			cur = &lines[len(lines)-1]
		}
		cur.add(g)
	}

	var blocks []Block
	var prev *lineBuilder
	for i := range lines {
		lb := &lines[i]
		trimTrailingSpace(&lb.line)
		if len(lb.line.Spans) == 0 {
			continue
		}
		if prev != nil && len(blocks) > 0 && sameBlock(blocks[len(blocks)-1], prev, lb) {
			b := &blocks[len(blocks)-1]
			softBreak(&b.Lines[len(b.Lines)-1])
			b.Lines = append(b.Lines, lb.line)
			b.BBox = union(b.BBox, lb.line.BBox)
		} else {
			blocks = append(blocks, Block{Type: BlockText, BBox: lb.line.BBox, Lines: []Line{lb.line}})
		}
		prev = lb
	}
	return blocks
}

func sameBlock(b Block, prev, next *lineBuilder) bool {
	size := math.Max(prev.size, next.size)
	drop := prev.baseline - next.baseline
	if drop <= 0 || drop > lineSpacingMax*size {
		return false
	}
	if math.Max(prev.size, next.size) > sizeRatioMax*math.Min(prev.size, next.size) {
		return false
	}
	return next.line.BBox.X0 < b.BBox.X1 && next.line.BBox.X1 > b.BBox.X0
}

func trimTrailingSpace(l *Line) {
	for n := len(l.Spans); n > 0; n = len(l.Spans) {
		last := &l.Spans[n-1]
		last.Text = strings.TrimRightFunc(last.Text, unicode.IsSpace)
		if last.Text != "" {
			return
		}
		l.Spans = l.Spans[:n-1]
	}
}

// softBreak appends a space to a line that continues on the next one,
// unless it ends in a hyphen or a wide rune.
func softBreak(l *Line) {
	last := &l.Spans[len(l.Spans)-1]
	r, _ := utf8.DecodeLastRuneInString(last.Text)
	if r == '-' || unicode.Is(unicode.Han, r) || unicode.IsSpace(r) {
		return
	}
	last.Text += " "
}
