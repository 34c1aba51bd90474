package render

import (
	"fmt"
	"strings"
)

// Quality tiers accepted by the page endpoint.
const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// Output formats.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Defaults used when a request leaves an option empty.
const (
	DefaultWidth   = 800
	DefaultHeight  = 1200
	DefaultQuality = QualityMedium
	DefaultFormat  = FormatWebP

	// ThumbnailWidth is the bounding box used for page thumbnails.
	ThumbnailWidth  = 200
	ThumbnailHeight = 300

	maxDimension = 4096
)

var qualityValues = map[string]int{
	QualityLow:    60,
	QualityMedium: 80,
	QualityHigh:   95,
}

// QualityValue maps a tier to the encoder quality (0-100).
func QualityValue(tier string) int {
	if q, ok := qualityValues[tier]; ok {
		return q
	}
	return qualityValues[DefaultQuality]
}

// Options describes how a page should be rasterized.
// Distinct options produce distinct cache entries.
type Options struct {
	Width     int
	Height    int
	Quality   string
	Format    string
	Watermark string
}

// Normalize fills defaults and validates the values.
func (o Options) Normalize() (Options, error) {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.Width < 1 || o.Height < 1 || o.Width > maxDimension || o.Height > maxDimension {
		return o, fmt.Errorf("dimensions must be between 1 and %d, got %dx%d", maxDimension, o.Width, o.Height)
	}

	o.Quality = strings.ToLower(strings.TrimSpace(o.Quality))
	if o.Quality == "" {
		o.Quality = DefaultQuality
	}
	if _, ok := qualityValues[o.Quality]; !ok {
		return o, fmt.Errorf("unknown quality %q (use low, medium or high)", o.Quality)
	}

	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	switch o.Format {
	case "":
		o.Format = DefaultFormat
	case "jpg":
		o.Format = FormatJPEG
	case FormatWebP, FormatJPEG, FormatPNG:
	default:
		return o, fmt.Errorf("unknown format %q (use webp, jpeg or png)", o.Format)
	}

	o.Watermark = strings.TrimSpace(o.Watermark)
	return o, nil
}

// Thumbnail returns the options used for a page thumbnail.
func Thumbnail(format string) Options {
	return Options{Width: ThumbnailWidth, Height: ThumbnailHeight, Quality: QualityLow, Format: format}
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	}
	return "image/webp"
}
