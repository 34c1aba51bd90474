// Package render turns one PDF page into an image.
//
// The Renderer walks an ordered chain of PageConverter strategies and
// returns the first success. Strategy failures are logged and swallowed;
// when every strategy fails the caller gets an error placeholder image, so
// a page request never fails because of the converters.
package render

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
)

var converterAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "page_converter_attempts_total",
	Help: "Page conversion attempts by strategy and outcome.",
}, []string{"strategy", "outcome"})

// StrategyPlaceholder is reported when every converter failed.
const StrategyPlaceholder = "placeholder"

// Result is a rendered page.
type Result struct {
	Data     []byte
	Format   string
	Width    int
	Height   int
	Strategy string
	// Placeholder is true when the image is the error placeholder.
	Placeholder bool
}

// Renderer is safe for concurrent use.
type Renderer struct {
	store      storage.BlobStore
	converters []PageConverter
	timeout    time.Duration
}

// NewRenderer creates a renderer. timeout bounds each strategy attempt;
// zero disables the per-attempt bound (the caller's context still applies).
func NewRenderer(store storage.BlobStore, converters []PageConverter, timeout time.Duration) *Renderer {
	return &Renderer{store: store, converters: converters, timeout: timeout}
}

// Converters returns the chain in priority order.
func (r *Renderer) Converters() []PageConverter {
	return r.converters
}

// RenderPage loads the document's PDF and renders one page. Only loading
// the source can fail (StorageError); conversion failures degrade to the
// placeholder.
func (r *Renderer) RenderPage(ctx context.Context, doc *models.Document, page int, opts Options) (*Result, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, docerr.Wrap(docerr.RenderingFailed, err, "invalid render options").WithDocument(doc.ID).WithPage(page)
	}
	data, err := storage.ResolveBlob(ctx, r.store, doc)
	if err != nil {
		return nil, err
	}
	return r.RenderSource(ctx, Source{Document: doc, Data: data}, page, opts), nil
}

// RenderSource renders a page from PDF bytes already in memory. The worker
// uses it so a job fetches the blob once for all pages.
func (r *Renderer) RenderSource(ctx context.Context, src Source, page int, opts Options) *Result {
	n, err := opts.Normalize()
	if err != nil {
		n, _ = Options{}.Normalize()
	}
	opts = n
	docID := ""
	if src.Document != nil {
		docID = src.Document.ID
	}

	for _, c := range r.converters {
		if ctx.Err() != nil {
			break
		}
		data, err := r.attempt(ctx, c, src, page, opts)
		if err != nil {
			converterAttempts.WithLabelValues(c.Name(), "failure").Inc()
			log.WithFields(log.Fields{
				"document_id": docID,
				"page":        page,
				"strategy":    c.Name(),
			}).WithError(err).Warn("⚠️  Page converter failed, trying next")
			continue
		}
		converterAttempts.WithLabelValues(c.Name(), "success").Inc()
		return &Result{
			Data:     data,
			Format:   opts.Format,
			Width:    opts.Width,
			Height:   opts.Height,
			Strategy: c.Name(),
		}
	}

	converterAttempts.WithLabelValues(StrategyPlaceholder, "success").Inc()
	log.WithFields(log.Fields{"document_id": docID, "page": page}).
		Error("❌ All page converters failed, serving placeholder")
	data, format := ErrorPlaceholder(page, opts)
	return &Result{
		Data:        data,
		Format:      format,
		Width:       opts.Width,
		Height:      opts.Height,
		Strategy:    StrategyPlaceholder,
		Placeholder: true,
	}
}

func (r *Renderer) attempt(ctx context.Context, c PageConverter, src Source, page int, opts Options) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	data, err := c.Convert(ctx, src, page, opts)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, docerr.New(docerr.RenderingFailed, "converter %s returned an empty image", c.Name())
	}
	return data, nil
}
