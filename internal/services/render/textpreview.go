package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextPreview is the last converter in the chain. It needs no external
// tools: the page's extracted text is drawn onto a blank page. Pages with
// no text get the explicit "no content" page instead of a blank image.
type TextPreview struct{}

func NewTextPreview() *TextPreview { return &TextPreview{} }

func (t *TextPreview) Name() string { return "text-preview" }

func (t *TextPreview) Convert(ctx context.Context, src Source, page int, opts Options) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := r.NumPage()
	if page < 1 || page > total {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, total)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title := ""
	if src.Document != nil {
		title = src.Document.Title
	}

	p := r.Page(page)
	text := ""
	if !p.V.IsNull() {
		if s, err := p.GetPlainText(nil); err == nil {
			text = strings.TrimSpace(s)
		}
	}
	if text == "" {
		return NoContentPage(title, page, total, len(src.Data), opts)
	}

	img := blank(opts.Width, opts.Height)
	margin := max(8, opts.Width/20)
	y := drawLines(img, muted, margin, margin+12, []string{fmt.Sprintf("%s - page %d of %d (text preview)", title, page, total)})
	drawLines(img, ink, margin, y+8, wrap(text, charsPerLine(opts.Width, margin)))
	return finish(img, opts)
}
