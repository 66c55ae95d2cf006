// Package pdf extracts page content, selects translatable text blocks and
// replaces them with translated text, one page at a time.
package pdf

import (
	"time"

	"pdf-translator/internal/layout"
)

// BlockType tags a page block.
type BlockType int

const (
	BlockText BlockType = iota
	BlockImage
)

// Span is a run of text sharing one font and size.
type Span struct {
	Text     string
	Font     string
	FontSize float64
	BBox     layout.Rect
}

// Line is a sequence of spans on one baseline.
type Line struct {
	Spans []Span
	BBox  layout.Rect
}

// Block is a contiguous region of page content.
type Block struct {
	Type  BlockType
	BBox  layout.Rect
	Lines []Line
}

// PageContent is one page's structured content. Coordinates are PDF user
// space; Box is the page's MediaBox.
type PageContent struct {
	Number int
	Box    layout.Rect
	Blocks []Block
}

// TextBlock 可翻译的文本块
type TextBlock struct {
	Page      int
	Index     int // position within the page's candidate list
	Text      string
	FontSizes []float64 // one per span
	BBox      layout.Rect
}

// ProgressCallback is called after each page with the 1-based page number.
type ProgressCallback func(page, totalPages int)

// TranslationResult 翻译结果
type TranslationResult struct {
	OriginalPDFPath     string        `json:"original_pdf_path"`
	TranslatedPDFPath   string        `json:"translated_pdf_path"`
	Pages               int           `json:"pages"`
	FailedPages         int           `json:"failed_pages"`
	CandidateBlocks     int           `json:"candidate_blocks"`
	TranslatedBlocks    int           `json:"translated_blocks"`
	SkippedUntranslated int           `json:"skipped_untranslated"`
	SkippedOverflow     int           `json:"skipped_overflow"`
	Duration            time.Duration `json:"duration"`
}

// PDFErrorCode 错误代码枚举
type PDFErrorCode string

const (
	ErrPDFNotFound    PDFErrorCode = "PDF_NOT_FOUND"
	ErrPDFInvalid     PDFErrorCode = "PDF_INVALID"
	ErrExtractFailed  PDFErrorCode = "EXTRACT_FAILED"
	ErrGenerateFailed PDFErrorCode = "GENERATE_FAILED"
)

// PDFError PDF 处理错误
type PDFError struct {
	Code    PDFErrorCode `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details,omitempty"`
	Page    int          `json:"page,omitempty"`
	Cause   error        `json:"-"`
}

// Error implements the error interface for PDFError
func (e *PDFError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *PDFError) Unwrap() error {
	return e.Cause
}

// NewPDFError creates a new PDFError with the given code, message, and optional cause
func NewPDFError(code PDFErrorCode, message string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPDFErrorWithDetails creates a new PDFError with details
func NewPDFErrorWithDetails(code PDFErrorCode, message, details string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// NewPDFErrorWithPage creates a new PDFError with page information
func NewPDFErrorWithPage(code PDFErrorCode, message string, page int, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Page:    page,
		Cause:   cause,
	}
}
