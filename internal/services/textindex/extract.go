// Package textindex extracts per-page text from PDFs and answers substring
// searches over it.
//
// We use the ledongthuc/pdf library for text extraction.
// It's a pure Go implementation, so no external tools are needed.
package textindex

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
)

// PageText is the text of one page.
type PageText struct {
	PageNumber int
	Text       string
	// Approximate is set when the text came from a proportional split of
	// the whole document rather than from the page itself.
	Approximate bool
}

// ExtractText returns one PageText per page, in page order.
//
// Text is read page by page. When the reader cannot give exact page
// boundaries (a page fails to decode), the whole document's text is split
// across the pages proportionally by character count instead. That split
// is an approximation: a match may be reported one page off near page
// boundaries. Such pages are flagged Approximate.
//
// pageCount overrides the page count reported by the reader when > 0.
func ExtractText(data []byte, pageCount int) (pages []PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, docerr.New(docerr.TextExtractionFailed, "pdf reader panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, docerr.Wrap(docerr.TextExtractionFailed, err, "failed to open PDF")
	}
	if pageCount <= 0 {
		pageCount = reader.NumPage()
	}
	if pageCount == 0 {
		return nil, nil
	}

	if exact, ok := perPage(reader, pageCount); ok {
		return exact, nil
	}

	whole, err := reader.GetPlainText()
	if err != nil {
		return nil, docerr.Wrap(docerr.TextExtractionFailed, err, "failed to read document text")
	}
	raw, err := io.ReadAll(whole)
	if err != nil {
		return nil, docerr.Wrap(docerr.TextExtractionFailed, err, "failed to read document text")
	}

	chunks := SplitProportional(string(raw), pageCount)
	pages = make([]PageText, pageCount)
	for i, chunk := range chunks {
		pages[i] = PageText{PageNumber: i + 1, Text: strings.TrimSpace(chunk), Approximate: true}
	}
	return pages, nil
}

// perPage reads each page separately. ok is false as soon as one page
// cannot be decoded.
func perPage(reader *pdf.Reader, pageCount int) ([]PageText, bool) {
	if reader.NumPage() < pageCount {
		return nil, false
	}
	pages := make([]PageText, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			return nil, false
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, false
		}
		pages = append(pages, PageText{PageNumber: i, Text: strings.TrimSpace(text)})
	}
	return pages, true
}

// SplitProportional divides text into n chunks of (nearly) equal character
// count. Chunk i covers characters [i*len/n, (i+1)*len/n). Words may be cut
// at chunk boundaries.
func SplitProportional(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	runes := []rune(text)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		start := i * len(runes) / n
		end := (i + 1) * len(runes) / n
		out[i] = string(runes[start:end])
	}
	return out
}

// Summary describes an extraction for logging.
func Summary(pages []PageText) string {
	withText, approx := 0, false
	for _, p := range pages {
		if p.Text != "" {
			withText++
		}
		approx = approx || p.Approximate
	}
	s := fmt.Sprintf("%d/%d pages with text", withText, len(pages))
	if approx {
		s += " (proportional split)"
	}
	return s
}
