package render

import (
	"context"
	"fmt"
	"os"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// Source is the PDF a converter works on.
type Source struct {
	Document *models.Document
	Data     []byte
}

// PageConverter is one rasterization strategy.
// Go Pattern: each strategy owns its own library or process invocation;
// the Renderer only iterates over them in order and swallows failures.
//
// Convert returns fully encoded bytes in opts.Format at the requested
// dimensions, watermark included. A successful result is served as is.
type PageConverter interface {
	Name() string
	Convert(ctx context.Context, src Source, page int, opts Options) ([]byte, error)
}

// DefaultConverters returns the production chain in priority order.
func DefaultConverters(pdftoppmPath, ghostscriptPath string) []PageConverter {
	return []PageConverter{
		NewPdftoppm(pdftoppmPath),
		NewGhostscript(ghostscriptPath),
		NewEmbeddedImage(),
		NewTextPreview(),
	}
}

// writeTemp stores the PDF in a temporary file for external tools that only
// accept paths. The caller must run the returned cleanup.
func writeTemp(data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "docview-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}
