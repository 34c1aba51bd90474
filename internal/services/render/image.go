package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/webp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	// Scanned pages are often stored as TIFF.
	_ "golang.org/x/image/tiff"
)

var (
	white     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	ink       = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	muted     = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	alert     = color.RGBA{R: 180, G: 30, B: 30, A: 255}
	watermark = color.NRGBA{R: 150, G: 150, B: 150, A: 90}
)

// FitContain scales src to fit inside width x height without cropping or
// stretching, centers it and fills the remaining area with white.
func FitContain(src image.Image, width, height int) *image.RGBA {
	dst := blank(width, height)
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return dst
	}

	scale := min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale+0.5))
	h := max(1, int(float64(b.Dy())*scale+0.5))
	x := (width - w) / 2
	y := (height - h) / 2

	draw.CatmullRom.Scale(dst, image.Rect(x, y, x+w, y+h), src, b, draw.Over, nil)
	return dst
}

func blank(width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: white}, image.Point{}, draw.Src)
	return dst
}

// Watermark tiles text diagonally across img.
func Watermark(img *image.RGBA, text string) {
	if text == "" {
		return
	}
	d := &font.Drawer{Dst: img, Src: image.NewUniform(watermark), Face: basicfont.Face7x13}
	textWidth := d.MeasureString(text).Ceil()
	stepX := textWidth + 60
	stepY := 90
	b := img.Bounds()
	for row, y := 0, b.Min.Y+40; y < b.Max.Y; row, y = row+1, y+stepY {
		offset := (row % 2) * stepX / 2
		for x := b.Min.X - offset; x < b.Max.X; x += stepX {
			d.Dot = fixed.P(x, y)
			d.DrawString(text)
		}
	}
}

// Encode writes img in the requested format. Quality is ignored for PNG.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: quality})
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// finish applies the watermark and encodes. Every converter ends here so
// that its output is final.
func finish(img *image.RGBA, opts Options) ([]byte, error) {
	Watermark(img, opts.Watermark)
	return Encode(img, opts.Format, QualityValue(opts.Quality))
}

// drawLines writes lines top-down starting at (x, y), clipping at the bottom.
func drawLines(img *image.RGBA, c color.Color, x, y int, lines []string) int {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: basicfont.Face7x13}
	lineHeight := basicfont.Face7x13.Metrics().Height.Ceil() + 4
	for _, line := range lines {
		if y > img.Bounds().Max.Y-lineHeight {
			break
		}
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
		y += lineHeight
	}
	return y
}

// wrap breaks text into lines of at most width characters, on word
// boundaries where possible.
func wrap(text string, width int) []string {
	if width < 1 {
		width = 1
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		var line strings.Builder
		n := 0
		for _, word := range words {
			w := []rune(word)
			for len(w) > width {
				if n > 0 {
					lines = append(lines, line.String())
					line.Reset()
					n = 0
				}
				lines = append(lines, string(w[:width]))
				w = w[width:]
			}
			if n > 0 && n+1+len(w) > width {
				lines = append(lines, line.String())
				line.Reset()
				n = 0
			}
			if n > 0 {
				line.WriteByte(' ')
				n++
			}
			line.WriteString(string(w))
			n += len(w)
		}
		if line.Len() > 0 {
			lines = append(lines, line.String())
		}
	}
	return lines
}

// charsPerLine is how many basicfont glyphs fit in width pixels with margins.
func charsPerLine(width, margin int) int {
	return max(1, (width-2*margin)/basicfont.Face7x13.Advance)
}

func humanSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// NoContentPage draws the informative page shown when a page has no
// extractable text and no converter could rasterize it: the document
// title, the page index and the source size.
func NoContentPage(title string, page, totalPages, byteSize int, opts Options) ([]byte, error) {
	img := blank(opts.Width, opts.Height)
	margin := max(8, opts.Width/20)
	cols := charsPerLine(opts.Width, margin)

	y := opts.Height / 3
	if title == "" {
		title = "Untitled document"
	}
	y = drawLines(img, ink, margin, y, wrap(title, cols))
	pageLine := fmt.Sprintf("Page %d", page)
	if totalPages > 0 {
		pageLine = fmt.Sprintf("Page %d of %d", page, totalPages)
	}
	drawLines(img, muted, margin, y+10, []string{
		pageLine,
		"Source size: " + humanSize(byteSize),
	})
	drawLines(img, muted, margin, y+70, wrap("This page has no text content that can be previewed.", cols))
	return finish(img, opts)
}

// ErrorPlaceholder is returned when every converter failed. It never fails:
// if encoding in the requested format breaks, PNG is used instead, and the
// returned format says which one the bytes are in.
func ErrorPlaceholder(page int, opts Options) ([]byte, string) {
	if opts.Width < 1 || opts.Height < 1 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	img := blank(opts.Width, opts.Height)
	margin := max(8, opts.Width/20)
	cols := charsPerLine(opts.Width, margin)

	y := drawLines(img, alert, margin, opts.Height/3, []string{fmt.Sprintf("Page %d could not be displayed", page)})
	drawLines(img, muted, margin, y+10, wrap("The page preview is temporarily unavailable. Please try again later.", cols))

	out, err := finish(img, opts)
	if err != nil {
		log.WithError(err).Warnf("⚠️  Placeholder encoding as %s failed, using png", opts.Format)
		out, _ = Encode(img, FormatPNG, 0)
		return out, FormatPNG
	}
	return out, opts.Format
}
