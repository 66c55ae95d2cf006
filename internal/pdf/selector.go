package pdf

import (
	"strings"
	"unicode/utf8"
)

// MinBlockRunes is the shortest trimmed text a block may carry.
const MinBlockRunes = 2

// SelectBlock turns a text block into a translation candidate. It reports
// false for non-text blocks, for text shorter than MinBlockRunes after
// trimming, and for an empty or infinite bounding box.
func SelectBlock(b Block) (TextBlock, bool) {
	if b.Type != BlockText {
		return TextBlock{}, false
	}

	var text strings.Builder
	var sizes []float64
	for _, line := range b.Lines {
		for _, span := range line.Spans {
			text.WriteString(span.Text)
			sizes = append(sizes, span.FontSize)
		}
	}

	s := text.String()
	if utf8.RuneCountInString(strings.TrimSpace(s)) < MinBlockRunes {
		return TextBlock{}, false
	}
	if b.BBox.IsEmpty() || b.BBox.IsInfinite() {
		return TextBlock{}, false
	}
	return TextBlock{Text: s, FontSizes: sizes, BBox: b.BBox}, true
}

// SelectBlocks returns the page's candidates in content order.
func SelectBlocks(page PageContent) []TextBlock {
	var out []TextBlock
	for _, b := range page.Blocks {
		tb, ok := SelectBlock(b)
		if !ok {
			continue
		}
		tb.Page = page.Number
		tb.Index = len(out)
		out = append(out, tb)
	}
	return out
}
