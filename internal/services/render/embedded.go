package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// EmbeddedImage serves scanned documents: it pulls the largest raster image
// stored on the page with pdfcpu and uses it as the page preview.
type EmbeddedImage struct{}

func NewEmbeddedImage() *EmbeddedImage { return &EmbeddedImage{} }

func (e *EmbeddedImage) Name() string { return "embedded-image" }

func (e *EmbeddedImage) Convert(ctx context.Context, src Source, page int, opts Options) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("pdfcpu panicked: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var best image.Image
	bestArea := 0
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		decoded, _, err := image.Decode(img)
		if err != nil {
			// Unsupported filters (JBIG2, JPX) are skipped.
			return nil
		}
		if b := decoded.Bounds(); b.Dx()*b.Dy() > bestArea {
			best, bestArea = decoded, b.Dx()*b.Dy()
		}
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(src.Data), []string{strconv.Itoa(page)}, digest, conf); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}
	if best == nil {
		return nil, errors.New("page has no decodable embedded image")
	}
	return finish(FitContain(best, opts.Width, opts.Height), opts)
}
