package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"pdf-translator/internal/dispatch"
	"pdf-translator/internal/layout"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/translator"
)

// DefaultOutputSuffix is inserted before the extension of the output file.
const DefaultOutputSuffix = "zh"

// DefaultOutputPath derives <dir>/<name>_<suffix><ext> from src.
func DefaultOutputPath(src, suffix string) string {
	if suffix == "" {
		suffix = DefaultOutputSuffix
	}
	ext := filepath.Ext(src)
	return strings.TrimSuffix(src, ext) + "_" + suffix + ext
}

// BlockTranslator resolves one block's text to a translation or a skip.
// *translator.Service implements it.
type BlockTranslator interface {
	TranslateBlock(ctx context.Context, text string) (translator.BlockResult, error)
}

// Options configures a PDFTranslator.
type Options struct {
	Workers int
	Editor  EditorOptions
}

// PDFTranslator 是 PDF 翻译功能的主控制器。
// 页面按顺序处理，同一页内的文本块并发翻译。
type PDFTranslator struct {
	translator BlockTranslator
	fitter     *layout.Fitter
	workers    int
	editorOpts EditorOptions

	openSource func(path string) (ContentSource, error)
	openEditor func(path string, opts EditorOptions) (PageEditor, error)
}

// NewPDFTranslator creates a PDFTranslator. A nil fitter uses the heuristic
// measurer with default shrink settings.
func NewPDFTranslator(tr BlockTranslator, fitter *layout.Fitter, opts Options) *PDFTranslator {
	if fitter == nil {
		fitter = layout.NewFitter(layout.HeuristicMeasurer{})
	}
	if opts.Workers <= 0 {
		opts.Workers = dispatch.DefaultWorkers
	}
	return &PDFTranslator{
		translator: tr,
		fitter:     fitter,
		workers:    opts.Workers,
		editorOpts: opts.Editor,
		openSource: func(path string) (ContentSource, error) {
			return OpenLedongthucSource(path)
		},
		openEditor: func(path string, opts EditorOptions) (PageEditor, error) {
			return OpenPDFCPUEditor(path, opts)
		},
	}
}

// TranslatePDF translates src page by page and writes the result to out.
// Nothing is written when ctx is cancelled before the last page.
func (t *PDFTranslator) TranslatePDF(ctx context.Context, src, out string, progress ProgressCallback) (*TranslationResult, error) {
	start := time.Now()

	source, err := t.openSource(src)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	editor, err := t.openEditor(src, t.editorOpts)
	if err != nil {
		return nil, err
	}
	defer editor.Close()

	result, err := t.Process(ctx, source, editor, progress)
	result.OriginalPDFPath = src
	if err != nil {
		return result, err
	}

	if err := editor.Save(out); err != nil {
		return result, err
	}
	result.TranslatedPDFPath = out
	result.Duration = time.Since(start)

	logger.Info("translated PDF saved",
		logger.String("output", out),
		logger.Int("translated", result.TranslatedBlocks),
		logger.Int("candidates", result.CandidateBlocks),
		logger.Duration("elapsed", result.Duration))
	return result, nil
}

// Process runs the page pipeline over source, applying replacements through
// editor. Each page is committed once, after all its blocks are resolved.
// It only fails when ctx is cancelled; the partial result is still returned.
func (t *PDFTranslator) Process(ctx context.Context, source ContentSource, editor PageEditor, progress ProgressCallback) (*TranslationResult, error) {
	total := source.NumPages()
	result := &TranslationResult{Pages: total}

	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("translation cancelled", logger.Int("page", n), logger.Err(err))
			return result, err
		}

		logger.Info(fmt.Sprintf("处理第 %d/%d 页", n, total))
		if err := t.processPage(ctx, source, editor, n, result); err != nil {
			result.FailedPages++
			logger.Error("page left unchanged", err, logger.Int("page", n))
		}

		if progress != nil {
			progress(n, total)
		}
	}
	return result, nil
}

func (t *PDFTranslator) processPage(ctx context.Context, source ContentSource, editor PageEditor, n int, result *TranslationResult) error {
	content, err := source.Page(n)
	if err != nil {
		return err
	}

	blocks := SelectBlocks(content)
	result.CandidateBlocks += len(blocks)
	logger.Info("page candidates", logger.Int("page", n), logger.Int("blocks", len(blocks)))
	if len(blocks) == 0 {
		return nil
	}

	outcomes := dispatch.Map(ctx, dispatch.Options{Workers: t.workers, Name: fmt.Sprintf("page %d", n)}, blocks,
		func(ctx context.Context, _ int, b TextBlock) (translator.BlockResult, error) {
			return t.translator.TranslateBlock(ctx, b.Text)
		})

	translated := 0
	for _, o := range outcomes {
		if o.OK() && o.Value.Translated {
			translated++
		}
	}
	logger.Info("page translated", logger.Int("page", n), logger.Int("translated", translated))

	queued := 0
	var overflow, untranslated int
	for i, b := range blocks {
		o := outcomes[i]
		if !o.OK() || !o.Value.Translated {
			untranslated++
			fields := []logger.Field{logger.Int("page", n), logger.String("text", preview(b.Text))}
			if o.Value.Reason != nil {
				fields = append(fields, logger.String("reason", o.Value.Reason.Error()))
			}
			logger.Info("跳过未翻译的块", fields...)
			continue
		}
		logger.Debug("翻译结果", logger.Int("page", n), logger.String("text", o.Value.Text))

		fit := t.fitter.Fit(o.Value.Text, b.BBox, layout.MeanFontSize(b.FontSizes))
		if !fit.OK {
			overflow++
			logger.Warn("无法适应文本框，跳过此块",
				logger.Int("page", n),
				logger.Float64("last_size", fit.FontSize),
				logger.Int("attempts", fit.Attempts),
				logger.String("text", preview(b.Text)))
			continue
		}

		if err := editor.Queue(n, toPageSpace(content.Box, b.BBox, fit)); err != nil {
			untranslated++
			logger.Error("could not queue replacement", err, logger.Int("page", n), logger.Int("block", b.Index))
			continue
		}
		queued++
	}
	result.SkippedOverflow += overflow
	result.SkippedUntranslated += untranslated

	if err := editor.Commit(n); err != nil {
		result.SkippedUntranslated += queued
		return err
	}
	result.TranslatedBlocks += queued
	return nil
}

// toPageSpace shifts a fitted block from user space to offsets from the
// page box's lower-left corner.
func toPageSpace(box, rect layout.Rect, fit layout.FitResult) Replacement {
	dx, dy := box.X0, box.Y0
	lines := make([]layout.Line, len(fit.Lines))
	for i, l := range fit.Lines {
		l.X -= dx
		l.Y -= dy
		lines[i] = l
	}
	return Replacement{
		Rect:     layout.Rect{X0: rect.X0 - dx, Y0: rect.Y0 - dy, X1: rect.X1 - dx, Y1: rect.Y1 - dy},
		Lines:    lines,
		FontSize: fit.FontSize,
	}
}

func preview(s string) string {
	const limit = 60
	r := []rune(strings.TrimSpace(s))
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "..."
}
