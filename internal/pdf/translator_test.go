package pdf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pdf-translator/internal/layout"
	"pdf-translator/internal/llm"
	"pdf-translator/internal/logger"
	"pdf-translator/internal/quota"
	"pdf-translator/internal/retry"
	"pdf-translator/internal/translator"
)

type fakeSource struct {
	pages   []PageContent
	failing map[int]error
	closed  bool
}

func (s *fakeSource) NumPages() int { return len(s.pages) }

func (s *fakeSource) Page(n int) (PageContent, error) {
	if err := s.failing[n]; err != nil {
		return PageContent{}, err
	}
	return s.pages[n-1], nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeEditor struct {
	pending    map[int][]Replacement
	committed  map[int][]Replacement
	commits    []int
	failCommit map[int]bool
	savedTo    string
}

func newFakeEditor() *fakeEditor {
	return &fakeEditor{
		pending:   make(map[int][]Replacement),
		committed: make(map[int][]Replacement),
	}
}

func (e *fakeEditor) Queue(page int, r Replacement) error {
	e.pending[page] = append(e.pending[page], r)
	return nil
}

func (e *fakeEditor) Commit(page int) error {
	e.commits = append(e.commits, page)
	p := e.pending[page]
	delete(e.pending, page)
	if e.failCommit[page] {
		return NewPDFErrorWithPage(ErrGenerateFailed, "commit failed", page, nil)
	}
	e.committed[page] = append(e.committed[page], p...)
	return nil
}

func (e *fakeEditor) Save(path string) error {
	e.savedTo = path
	return nil
}

func (e *fakeEditor) Close() error { return nil }

// scriptedTranslator answers TranslateBlock from a table keyed by text.
type scriptedTranslator struct {
	mu      sync.Mutex
	answers map[string]translator.BlockResult
	errs    map[string]error
	seen    []string
}

func (s *scriptedTranslator) TranslateBlock(_ context.Context, text string) (translator.BlockResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, text)
	s.mu.Unlock()
	if err := s.errs[text]; err != nil {
		return translator.BlockResult{Decision: translator.DecisionUndetermined}, err
	}
	if r, ok := s.answers[text]; ok {
		return r, nil
	}
	return translator.BlockResult{Decision: translator.DecisionNo}, nil
}

func translated(text string) translator.BlockResult {
	return translator.BlockResult{Decision: translator.DecisionYes, Translated: true, Text: text}
}

var letterBox = layout.Rect{X0: 0, Y0: 0, X1: 612, Y1: 792}

func page(n int, blocks ...Block) PageContent {
	return PageContent{Number: n, Box: letterBox, Blocks: blocks}
}

func newTestTranslator(tr BlockTranslator) *PDFTranslator {
	return NewPDFTranslator(tr, layout.NewFitter(layout.HeuristicMeasurer{}), Options{Workers: 4})
}

// 端到端场景 1：判定为需要翻译，译文在原字号下放入，原文被遮盖。
func TestProcessReplacesTranslatedBlock(t *testing.T) {
	rect := layout.Rect{X0: 72, Y0: 700, X1: 272, Y1: 720}
	src := &fakeSource{pages: []PageContent{page(1, textBlock(rect, Span{Text: "Hello world", FontSize: 12}))}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{answers: map[string]translator.BlockResult{"Hello world": translated("你好世界")}}

	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := ed.committed[1]
	if len(got) != 1 {
		t.Fatalf("committed %d replacements, want 1", len(got))
	}
	r := got[0]
	if r.Rect != rect {
		t.Errorf("redaction rect = %+v, want %+v", r.Rect, rect)
	}
	if r.FontSize != 12 {
		t.Errorf("font size = %v, want 12", r.FontSize)
	}
	if len(r.Lines) != 1 || r.Lines[0].Text != "你好世界" {
		t.Errorf("lines = %+v", r.Lines)
	}
	if res.CandidateBlocks != 1 || res.TranslatedBlocks != 1 || res.SkippedUntranslated != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

// 端到端场景 2：判定为不翻译的块保持原样。
func TestProcessLeavesDeclinedBlock(t *testing.T) {
	src := &fakeSource{pages: []PageContent{page(1, textBlock(validRect, Span{Text: "42", FontSize: 10}))}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{}

	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tr.seen) != 1 || tr.seen[0] != "42" {
		t.Errorf("translator saw %q", tr.seen)
	}
	if len(ed.committed[1]) != 0 {
		t.Errorf("declined block was replaced: %+v", ed.committed[1])
	}
	if res.SkippedUntranslated != 1 || res.TranslatedBlocks != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

// 端到端场景 3：译文在任何字号下都放不下，跳过该块。
func TestProcessSkipsOverflow(t *testing.T) {
	rect := layout.Rect{X0: 72, Y0: 700, X1: 82, Y1: 702}
	src := &fakeSource{pages: []PageContent{page(1, textBlock(rect, Span{Text: "Figure 1", FontSize: 9}))}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{answers: map[string]translator.BlockResult{
		"Figure 1": translated(strings.Repeat("非常长的译文", 40)),
	}}

	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ed.committed[1]) != 0 {
		t.Error("overflowing block must leave the original in place")
	}
	if res.SkippedOverflow != 1 || res.TranslatedBlocks != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

// 端到端场景 4：后端连续 5 次返回 500，块按未翻译处理。
func TestProcessBackendFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"message":"internal"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	backend, err := llm.New(llm.BackendOpenAI, llm.Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("llm.New: %v", err)
	}
	policy := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxElapsed:  300 * time.Second,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	svc := translator.New(backend, nil, nil, translator.Options{Retry: policy})

	src := &fakeSource{pages: []PageContent{page(1, textBlock(validRect, Span{Text: "Hello world", FontSize: 12}))}}
	ed := newFakeEditor()

	res, err := newTestTranslator(svc).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := hits.Load(); got != 5 {
		t.Errorf("backend hit %d times, want 5", got)
	}
	if len(ed.committed[1]) != 0 {
		t.Error("failed block must not be replaced")
	}
	if res.SkippedUntranslated != 1 || res.FailedPages != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessCommitsOncePerPage(t *testing.T) {
	blocks := []Block{
		textBlock(layout.Rect{X0: 72, Y0: 700, X1: 300, Y1: 720}, Span{Text: "Alpha block", FontSize: 10}),
		{Type: BlockImage, BBox: validRect},
		textBlock(layout.Rect{X0: 72, Y0: 600, X1: 300, Y1: 620}, Span{Text: "Beta block", FontSize: 10}),
		textBlock(layout.Rect{X0: 72, Y0: 500, X1: 300, Y1: 520}, Span{Text: "Gamma block", FontSize: 10}),
	}
	src := &fakeSource{pages: []PageContent{page(1, blocks...), page(2), page(3, blocks[0])}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{answers: map[string]translator.BlockResult{
		"Alpha block": translated("甲"),
		"Gamma block": translated("丙"),
	}}

	var progress []string
	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, func(p, total int) {
		progress = append(progress, fmt.Sprintf("%d/%d", p, total))
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// page 2 has no candidates and needs no commit
	if fmt.Sprint(ed.commits) != "[1 3]" {
		t.Errorf("commits = %v, want [1 3]", ed.commits)
	}
	if n := len(ed.committed[1]); n != 2 {
		t.Errorf("page 1 replacements = %d, want 2", n)
	}
	if got := ed.committed[1][1].Lines[0].Text; got != "丙" {
		t.Errorf("second replacement = %q, want 丙", got)
	}
	if strings.Join(progress, " ") != "1/3 2/3 3/3" {
		t.Errorf("progress = %v", progress)
	}
	if res.Pages != 3 || res.CandidateBlocks != 4 || res.TranslatedBlocks != 3 || res.SkippedUntranslated != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessIsolatesPageFailures(t *testing.T) {
	b := textBlock(validRect, Span{Text: "Hello world", FontSize: 12})
	src := &fakeSource{
		pages:   []PageContent{page(1, b), page(2, b), page(3, b)},
		failing: map[int]error{1: NewPDFErrorWithPage(ErrExtractFailed, "broken page", 1, nil)},
	}
	ed := newFakeEditor()
	ed.failCommit = map[int]bool{2: true}
	tr := &scriptedTranslator{
		answers: map[string]translator.BlockResult{"Hello world": translated("你好世界")},
	}

	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.FailedPages != 2 {
		t.Errorf("FailedPages = %d, want 2", res.FailedPages)
	}
	if res.TranslatedBlocks != 1 || len(ed.committed[3]) != 1 {
		t.Errorf("page 3 should still be translated: %+v", res)
	}
	if res.SkippedUntranslated != 1 {
		t.Errorf("rolled back block should count as untranslated: %+v", res)
	}
}

func TestProcessTranslatorErrorIsContained(t *testing.T) {
	src := &fakeSource{pages: []PageContent{page(1,
		textBlock(layout.Rect{X0: 72, Y0: 700, X1: 300, Y1: 720}, Span{Text: "Broken", FontSize: 10}),
		textBlock(layout.Rect{X0: 72, Y0: 600, X1: 300, Y1: 620}, Span{Text: "Fine", FontSize: 10}),
	)}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{
		answers: map[string]translator.BlockResult{"Fine": translated("好")},
		errs:    map[string]error{"Broken": errors.New("backend down")},
	}

	res, err := newTestTranslator(tr).Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(ed.committed[1]) != 1 || ed.committed[1][0].Lines[0].Text != "好" {
		t.Errorf("committed = %+v", ed.committed[1])
	}
	if res.TranslatedBlocks != 1 || res.SkippedUntranslated != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := textBlock(validRect, Span{Text: "Hello world", FontSize: 12})
	src := &fakeSource{pages: []PageContent{page(1, b), page(2, b)}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{answers: map[string]translator.BlockResult{"Hello world": translated("你好")}}

	res, err := newTestTranslator(tr).Process(ctx, src, ed, func(int, int) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if fmt.Sprint(ed.commits) != "[1]" {
		t.Errorf("commits = %v, want only page 1", ed.commits)
	}
	if res.TranslatedBlocks != 1 {
		t.Errorf("partial result lost: %+v", res)
	}
}

func TestToPageSpace(t *testing.T) {
	box := layout.Rect{X0: 10, Y0: 20, X1: 622, Y1: 812}
	fit := layout.FitResult{
		FontSize: 9,
		Lines:    []layout.Line{{Text: "x", X: 82, Y: 720, Width: 5}},
		OK:       true,
	}
	r := toPageSpace(box, layout.Rect{X0: 82, Y0: 710, X1: 182, Y1: 730}, fit)
	if r.Rect != (layout.Rect{X0: 72, Y0: 690, X1: 172, Y1: 710}) {
		t.Errorf("rect = %+v", r.Rect)
	}
	if r.Lines[0].X != 72 || r.Lines[0].Y != 700 || r.FontSize != 9 {
		t.Errorf("line = %+v size %v", r.Lines[0], r.FontSize)
	}
	if fit.Lines[0].X != 82 {
		t.Error("fit result must not be modified")
	}
}

func TestTranslatePDF(t *testing.T) {
	src := &fakeSource{pages: []PageContent{page(1, textBlock(validRect, Span{Text: "Hello world", FontSize: 12}))}}
	ed := newFakeEditor()
	tr := &scriptedTranslator{answers: map[string]translator.BlockResult{"Hello world": translated("你好世界")}}

	pt := newTestTranslator(tr)
	pt.openSource = func(string) (ContentSource, error) { return src, nil }
	pt.openEditor = func(string, EditorOptions) (PageEditor, error) { return ed, nil }

	out := filepath.Join(t.TempDir(), "paper_zh.pdf")
	res, err := pt.TranslatePDF(context.Background(), "paper.pdf", out, nil)
	if err != nil {
		t.Fatalf("TranslatePDF: %v", err)
	}
	if ed.savedTo != out || res.TranslatedPDFPath != out || res.OriginalPDFPath != "paper.pdf" {
		t.Errorf("unexpected paths %+v saved to %q", res, ed.savedTo)
	}
	if !src.closed {
		t.Error("source not closed")
	}

	// a cancelled run writes nothing
	ed2 := newFakeEditor()
	pt.openEditor = func(string, EditorOptions) (PageEditor, error) { return ed2, nil }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pt.TranslatePDF(ctx, "paper.pdf", out, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
	if ed2.savedTo != "" {
		t.Error("cancelled run must not save")
	}
}

func TestTranslatePDFOpenError(t *testing.T) {
	pt := newTestTranslator(&scriptedTranslator{})
	_, err := pt.TranslatePDF(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), "out.pdf", nil)
	var pe *PDFError
	if !errors.As(err, &pe) || pe.Code != ErrPDFNotFound {
		t.Errorf("expected PDF_NOT_FOUND, got %v", err)
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		src, suffix, want string
	}{
		{"/papers/attention.pdf", "", "/papers/attention_zh.pdf"},
		{"/papers/attention.pdf", "ja", "/papers/attention_ja.pdf"},
		{"Hu et al. 2024.v2.pdf", "zh", "Hu et al. 2024.v2_zh.pdf"},
		{"noext", "zh", "noext_zh"},
	}
	for _, tt := range tests {
		if got := DefaultOutputPath(tt.src, tt.suffix); got != tt.want {
			t.Errorf("DefaultOutputPath(%q, %q) = %q, want %q", tt.src, tt.suffix, got, tt.want)
		}
	}
}

// levelRecorder keeps the level of every log entry.
type levelRecorder struct {
	mu     sync.Mutex
	levels []string
}

func (r *levelRecorder) add(level string) {
	r.mu.Lock()
	r.levels = append(r.levels, level)
	r.mu.Unlock()
}

func (r *levelRecorder) Debug(string, ...logger.Field)        { r.add("DEBUG") }
func (r *levelRecorder) Info(string, ...logger.Field)         { r.add("INFO") }
func (r *levelRecorder) Warn(string, ...logger.Field)         { r.add("WARN") }
func (r *levelRecorder) Error(string, error, ...logger.Field) { r.add("ERROR") }
func (r *levelRecorder) SetLevel(logger.Level)                {}
func (r *levelRecorder) Close() error                         { return nil }

func (r *levelRecorder) count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.levels {
		if l == level {
			n++
		}
	}
	return n
}

// agreeableBackend says yes to every decision and translates everything.
type agreeableBackend struct{}

func (agreeableBackend) Name() string { return "agreeable" }

func (agreeableBackend) Complete(_ context.Context, req llm.Request) (string, error) {
	if strings.HasPrefix(req.Prompt, "Decide") {
		return "true", nil
	}
	return "译文", nil
}

func TestProcessQuotaSkipsAreNotErrors(t *testing.T) {
	rec := &levelRecorder{}
	prev := logger.GetLogger()
	logger.SetGlobalLogger(rec)
	defer logger.SetGlobalLogger(prev)

	// two calls: one decision and one translation
	q := quota.NewDailyQuota(quota.NewMemoryCounter(false), 2)
	svc := translator.New(agreeableBackend{}, nil, q, translator.Options{})

	src := &fakeSource{pages: []PageContent{
		page(1,
			textBlock(layout.Rect{X0: 72, Y0: 700, X1: 300, Y1: 720}, Span{Text: "Alpha block", FontSize: 10}),
			textBlock(layout.Rect{X0: 72, Y0: 600, X1: 300, Y1: 620}, Span{Text: "Beta block", FontSize: 10}),
		),
		page(2, textBlock(validRect, Span{Text: "Gamma block", FontSize: 10})),
	}}
	ed := newFakeEditor()
	pt := NewPDFTranslator(svc, layout.NewFitter(layout.HeuristicMeasurer{}), Options{Workers: 1})

	res, err := pt.Process(context.Background(), src, ed, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.TranslatedBlocks != 1 || res.SkippedUntranslated != 2 || res.FailedPages != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if n := rec.count("ERROR"); n != 0 {
		t.Errorf("quota skips logged %d errors", n)
	}
	if rec.count("WARN") == 0 {
		t.Error("reaching the quota should be logged as a warning")
	}
}
