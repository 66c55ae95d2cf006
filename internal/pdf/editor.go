package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/text/encoding/charmap"

	"pdf-translator/internal/layout"
	"pdf-translator/internal/logger"
)

// Replacement is one block's redaction plus the fitted lines written over it.
// Coordinates are relative to the page's lower-left corner.
type Replacement struct {
	Rect     layout.Rect
	Lines    []layout.Line
	FontSize float64
}

// PageEditor collects replacements per page and applies them on Commit.
// Nothing queued is visible in the document until its page is committed.
type PageEditor interface {
	// Queue adds r to page's pending set. On error nothing is queued.
	Queue(page int, r Replacement) error
	// Commit applies every pending redaction, then every pending text line
	// of page in a single edit. A failed commit leaves the page unchanged.
	Commit(page int) error
	Save(path string) error
	Close() error
}

// DefaultFontName is the core font used without a font file. It only covers
// Latin text.
const DefaultFontName = "Helvetica"

const (
	// cover images are rendered at this many pixels per point
	coverResolution = 4
	// baseline to stamp bottom, in multiples of the font size
	stampDescent = 0.2
)

// EditorOptions configures a PDFCPUEditor.
type EditorOptions struct {
	// FontPath is a TrueType font (.ttf, TrueType-flavoured .otf, or .ttc)
	// installed as a pdfcpu user font. CFF-based OpenType is not supported.
	FontPath string
	// FontIndex selects the face of a .ttc collection.
	FontIndex int
}

type pendingPage struct {
	covers []*model.Watermark
	texts  []*model.Watermark
}

// PDFCPUEditor edits an in-memory copy of a PDF with pdfcpu stamps: an
// opaque white image covers each redacted rectangle and each line of text is
// a text stamp on top.
type PDFCPUEditor struct {
	conf     *model.Configuration
	data     []byte
	pages    int
	fontName string
	pending  map[int]*pendingPage
}

// OpenPDFCPUEditor loads the PDF at path.
func OpenPDFCPUEditor(path string, opts EditorOptions) (*PDFCPUEditor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewPDFError(ErrPDFNotFound, "文件不存在，请检查路径", err)
		}
		return nil, NewPDFError(ErrPDFInvalid, "无法读取 PDF 文件", err)
	}

	conf := model.NewDefaultConfiguration()
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "无法解析 PDF 文件", err)
	}

	e := &PDFCPUEditor{
		conf:     conf,
		data:     data,
		pages:    pages,
		fontName: DefaultFontName,
		pending:  make(map[int]*pendingPage),
	}
	if opts.FontPath != "" {
		name, err := installFont(opts.FontPath, opts.FontIndex)
		if err != nil {
			return nil, err
		}
		e.fontName = name
	}
	return e, nil
}

// installFont registers a font file with pdfcpu and returns the PostScript
// name pdfcpu keys the installed face by.
func installFont(path string, index int) (string, error) {
	if font.UserFontDir == "" {
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "pdfcpu 字体目录未初始化", path, nil)
	}

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttf", ".otf":
		if index != 0 {
			return "", NewPDFErrorWithDetails(ErrGenerateFailed, "单字体文件只有一个字形面", path, nil)
		}
		err = font.InstallTrueTypeFont(font.UserFontDir, path)
	case ".ttc":
		err = font.InstallTrueTypeCollection(font.UserFontDir, path)
	default:
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "不支持的字体文件", path, nil)
	}
	if err != nil {
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "安装字体失败", path, err)
	}
	if err := font.LoadUserFonts(); err != nil {
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "加载字体失败", path, err)
	}

	name, err := postScriptName(path, index)
	if err != nil {
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "无法读取字体名称", path, err)
	}
	if !font.SupportedFont(name) {
		return "", NewPDFErrorWithDetails(ErrGenerateFailed, "字体安装后不可用", name, nil)
	}
	logger.Info("font installed", logger.String("font", name), logger.String("path", path))
	return name, nil
}

// postScriptName reads name ID 6 of face index in the font file at path.
func postScriptName(path string, index int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var f *sfnt.Font
	if strings.EqualFold(filepath.Ext(path), ".ttc") {
		coll, err := sfnt.ParseCollection(data)
		if err != nil {
			return "", err
		}
		if index < 0 || index >= coll.NumFonts() {
			return "", fmt.Errorf("face %d out of range, collection has %d", index, coll.NumFonts())
		}
		if f, err = coll.Font(index); err != nil {
			return "", err
		}
	} else if f, err = sfnt.Parse(data); err != nil {
		return "", err
	}
	return f.Name(nil, sfnt.NameIDPostScript)
}

// missingGlyph returns the first rune of text the stamp font cannot draw.
// Core fonts are limited to WinAnsi.
func (e *PDFCPUEditor) missingGlyph(text string) (rune, bool) {
	var chars map[uint32]uint16
	user := font.IsUserFont(e.fontName)
	if user {
		font.UserFontMetricsLock.RLock()
		chars = font.UserFontMetrics[e.fontName].Chars
		font.UserFontMetricsLock.RUnlock()
	}
	for _, r := range text {
		if r == ' ' {
			continue
		}
		if user {
			if _, ok := chars[uint32(r)]; !ok {
				return r, true
			}
		} else if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return r, true
		}
	}
	return 0, false
}

// PageCount returns the number of pages in the document.
func (e *PDFCPUEditor) PageCount() int { return e.pages }

// FontName returns the font text stamps use.
func (e *PDFCPUEditor) FontName() string { return e.fontName }

// Pending returns the number of queued replacements for page.
func (e *PDFCPUEditor) Pending(page int) int {
	if p := e.pending[page]; p != nil {
		return len(p.covers)
	}
	return 0
}

// Queue implements PageEditor.
func (e *PDFCPUEditor) Queue(page int, r Replacement) error {
	if page < 1 || page > e.pages {
		return NewPDFErrorWithPage(ErrGenerateFailed, "页码超出范围", page, nil)
	}
	if r.Rect.IsEmpty() {
		return NewPDFErrorWithPage(ErrGenerateFailed, "替换区域为空", page, nil)
	}

	cover, err := coverWatermark(r.Rect)
	if err != nil {
		return NewPDFErrorWithPage(ErrGenerateFailed, "创建遮盖图层失败", page, err)
	}
	texts := make([]*model.Watermark, 0, len(r.Lines))
	for _, line := range r.Lines {
		if c, missing := e.missingGlyph(line.Text); missing {
			return NewPDFErrorWithDetails(ErrGenerateFailed, "字体缺少字形",
				fmt.Sprintf("page %d: %q not in %s", page, c, e.fontName), nil)
		}
		wm, err := e.textWatermark(line, r.FontSize)
		if err != nil {
			return NewPDFErrorWithPage(ErrGenerateFailed, "创建文本水印失败", page, err)
		}
		texts = append(texts, wm)
	}

	p := e.pending[page]
	if p == nil {
		p = &pendingPage{}
		e.pending[page] = p
	}
	p.covers = append(p.covers, cover)
	p.texts = append(p.texts, texts...)
	return nil
}

// Commit implements PageEditor.
func (e *PDFCPUEditor) Commit(page int) error {
	p := e.pending[page]
	delete(e.pending, page)
	if p == nil || len(p.covers) == 0 {
		return nil
	}

	wms := make([]*model.Watermark, 0, len(p.covers)+len(p.texts))
	wms = append(wms, p.covers...)
	wms = append(wms, p.texts...)

	var out bytes.Buffer
	m := map[int][]*model.Watermark{page: wms}
	if err := api.AddWatermarksSliceMap(bytes.NewReader(e.data), &out, m, e.conf); err != nil {
		return NewPDFErrorWithPage(ErrGenerateFailed, "应用页面修改失败", page, err)
	}
	e.data = out.Bytes()

	logger.Debug("page committed",
		logger.Int("page", page),
		logger.Int("redactions", len(p.covers)),
		logger.Int("lines", len(p.texts)))
	return nil
}

// Save implements PageEditor. Pending, uncommitted replacements are dropped.
func (e *PDFCPUEditor) Save(path string) error {
	if n := len(e.pending); n > 0 {
		logger.Warn("saving with uncommitted pages", logger.Int("pages", n))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return NewPDFError(ErrGenerateFailed, "无法创建输出目录", err)
		}
	}
	if err := os.WriteFile(path, e.data, 0644); err != nil {
		return NewPDFError(ErrGenerateFailed, "写入 PDF 文件失败", err)
	}
	return nil
}

// Validate checks the edited document's structure.
func (e *PDFCPUEditor) Validate() error {
	if err := api.Validate(bytes.NewReader(e.data), e.conf); err != nil {
		return NewPDFError(ErrPDFInvalid, "生成的 PDF 文件格式无效", err)
	}
	return nil
}

// Close implements PageEditor.
func (e *PDFCPUEditor) Close() error {
	e.data = nil
	e.pending = nil
	return nil
}

// textWatermark stamps one line with its baseline at line.Y. pdfcpu font
// sizes are integral, so the fitted size is rounded down.
func (e *PDFCPUEditor) textWatermark(line layout.Line, size float64) (*model.Watermark, error) {
	points := int(math.Floor(size))
	if points < 1 {
		points = 1
	}
	desc := fmt.Sprintf("fontname:%s, points:%d, scale:1 abs, pos:bl, off:%.2f %.2f, rot:0, fillcolor:#000000, op:1",
		e.fontName, points, line.X, line.Y-stampDescent*size)
	return api.TextWatermark(line.Text, desc, true, false, types.POINTS)
}

// coverWatermark builds an opaque white image stamp the size of rect.
func coverWatermark(rect layout.Rect) (*model.Watermark, error) {
	w := int(math.Ceil(rect.Width() * coverResolution))
	h := int(math.Ceil(rect.Height() * coverResolution))
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("pos:bl, off:%.2f %.2f, scale:%.4f abs, rot:0, op:1",
		rect.X0, rect.Y0, 1.0/coverResolution)
	return api.ImageWatermarkForReader(&buf, desc, true, false, types.POINTS)
}
