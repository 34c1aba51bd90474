package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
	"github.com/Shimizu-Technology/document-viewer-api/internal/storage"
	"github.com/Shimizu-Technology/document-viewer-api/internal/testutil"
)

// fakeConverter returns out or err and counts its calls.
type fakeConverter struct {
	name  string
	out   []byte
	err   error
	calls atomic.Int32
	block bool
}

func (f *fakeConverter) Name() string { return f.name }

func (f *fakeConverter) Convert(ctx context.Context, src Source, page int, opts Options) ([]byte, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.out, f.err
}

func failing(name string) *fakeConverter {
	return &fakeConverter{name: name, err: errors.New(name + " crashed")}
}

func testDoc() *models.Document {
	return &models.Document{ID: "doc-1", Title: "Quarterly report", StorageKey: storage.OriginalKey("doc-1")}
}

func TestRendererReturnsFirstSuccessUnmodified(t *testing.T) {
	first, second := failing("first"), failing("second")
	third := &fakeConverter{name: "third", out: []byte("third-output")}
	fourth := &fakeConverter{name: "fourth", out: []byte("never")}

	r := NewRenderer(storage.NewMemoryStore(), []PageConverter{first, second, third, fourth}, 0)
	res := r.RenderSource(context.Background(), Source{Document: testDoc(), Data: []byte("%PDF")}, 2, Options{})

	assert.Equal(t, []byte("third-output"), res.Data)
	assert.Equal(t, "third", res.Strategy)
	assert.False(t, res.Placeholder)
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())
	assert.Equal(t, int32(1), third.calls.Load())
	assert.Equal(t, int32(0), fourth.calls.Load())
}

func TestRendererPlaceholderWhenAllFail(t *testing.T) {
	chain := []PageConverter{failing("a"), failing("b"), failing("c")}
	r := NewRenderer(storage.NewMemoryStore(), chain, 0)

	res := r.RenderSource(context.Background(), Source{Document: testDoc()}, 3, Options{Width: 300, Height: 400, Format: FormatPNG})

	require.NotEmpty(t, res.Data)
	assert.True(t, res.Placeholder)
	assert.Equal(t, StrategyPlaceholder, res.Strategy)

	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 300, 400), img.Bounds())
}

func TestRendererTreatsEmptyOutputAsFailure(t *testing.T) {
	empty := &fakeConverter{name: "empty"}
	ok := &fakeConverter{name: "ok", out: []byte("img")}
	r := NewRenderer(storage.NewMemoryStore(), []PageConverter{empty, ok}, 0)

	res := r.RenderSource(context.Background(), Source{}, 1, Options{})
	assert.Equal(t, "ok", res.Strategy)
}

func TestRendererBoundsEachAttempt(t *testing.T) {
	slow := &fakeConverter{name: "slow", block: true}
	ok := &fakeConverter{name: "ok", out: []byte("img")}
	r := NewRenderer(storage.NewMemoryStore(), []PageConverter{slow, ok}, 20*time.Millisecond)

	start := time.Now()
	res := r.RenderSource(context.Background(), Source{}, 1, Options{})
	assert.Equal(t, "ok", res.Strategy)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRenderPageLoadsSourceFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	pdf := testutil.BuildPDF("hello")
	require.NoError(t, store.Put(ctx, storage.OriginalKey("doc-1"), pdf))

	var seen []byte
	spy := &spyConverter{fn: func(src Source) { seen = src.Data }}
	r := NewRenderer(store, []PageConverter{spy}, 0)

	res, err := r.RenderPage(ctx, testDoc(), 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, pdf, seen)
	assert.Equal(t, FormatWebP, res.Format)
	assert.Equal(t, DefaultWidth, res.Width)
}

func TestRenderPageMissingSourceIsStorageError(t *testing.T) {
	r := NewRenderer(storage.NewMemoryStore(), []PageConverter{failing("x")}, 0)
	_, err := r.RenderPage(context.Background(), testDoc(), 1, Options{})
	require.Error(t, err)
	assert.Equal(t, docerr.StorageError, docerr.KindOf(err))
}

func TestRenderPageRejectsBadOptions(t *testing.T) {
	r := NewRenderer(storage.NewMemoryStore(), nil, 0)
	_, err := r.RenderPage(context.Background(), testDoc(), 1, Options{Format: "bmp"})
	assert.Error(t, err)
}

type spyConverter struct {
	fn func(Source)
}

func (s *spyConverter) Name() string { return "spy" }

func (s *spyConverter) Convert(ctx context.Context, src Source, page int, opts Options) ([]byte, error) {
	s.fn(src)
	return []byte("ok"), nil
}

func TestQualityValue(t *testing.T) {
	tests := []struct {
		tier string
		want int
	}{
		{QualityLow, 60},
		{QualityMedium, 80},
		{QualityHigh, 95},
		{"ultra", 80},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityValue(tt.tier))
		})
	}
}

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Options
		want    Options
		wantErr bool
	}{
		{name: "defaults", in: Options{}, want: Options{Width: 800, Height: 1200, Quality: "medium", Format: "webp"}},
		{name: "jpg alias", in: Options{Width: 10, Height: 20, Quality: "HIGH", Format: "jpg"}, want: Options{Width: 10, Height: 20, Quality: "high", Format: "jpeg"}},
		{name: "watermark trimmed", in: Options{Watermark: "  DRAFT "}, want: Options{Width: 800, Height: 1200, Quality: "medium", Format: "webp", Watermark: "DRAFT"}},
		{name: "negative width", in: Options{Width: -1}, wantErr: true},
		{name: "too tall", in: Options{Height: 10000}, wantErr: true},
		{name: "unknown quality", in: Options{Quality: "ultra"}, wantErr: true},
		{name: "unknown format", in: Options{Format: "gif"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFitContainCentersOnWhite(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			src.Set(x, y, red)
		}
	}

	dst := FitContain(src, 200, 200)

	assert.Equal(t, image.Rect(0, 0, 200, 200), dst.Bounds())
	// 100x50 scales to 200x100, centered vertically between y=50 and y=150.
	center := dst.RGBAAt(100, 100)
	assert.InDelta(t, 255, int(center.R), 2)
	assert.InDelta(t, 0, int(center.G), 2)
	assert.Equal(t, white, dst.RGBAAt(100, 10), "letterbox is white")
	assert.Equal(t, white, dst.RGBAAt(100, 190))
}

func TestEncodeFormats(t *testing.T) {
	img := blank(40, 30)

	p, err := Encode(img, FormatPNG, 0)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(p))
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())

	j, err := Encode(img, FormatJPEG, QualityValue(QualityLow))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, j[:2])

	w, err := Encode(img, FormatWebP, QualityValue(QualityHigh))
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(w[:4]))
	assert.Equal(t, "WEBP", string(w[8:12]))

	_, err = Encode(img, "bmp", 0)
	assert.Error(t, err)
}

func TestWatermarkChangesPixels(t *testing.T) {
	plain := blank(200, 200)
	marked := blank(200, 200)
	Watermark(marked, "CONFIDENTIAL")
	assert.NotEqual(t, plain.Pix, marked.Pix)

	untouched := blank(200, 200)
	Watermark(untouched, "")
	assert.Equal(t, plain.Pix, untouched.Pix)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"the quick", "brown fox"}, wrap("the quick brown fox", 10))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, wrap("abcdefghij", 4))
	assert.Equal(t, []string{"one", "", "two"}, wrap("one\n\ntwo", 10))
}

func TestWrapCountsRunes(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"long multibyte word", "ÄÖÜäöüß", 3, []string{"ÄÖÜ", "äöü", "ß"}},
		{"cjk", "日本語のテキスト", 4, []string{"日本語の", "テキスト"}},
		{"accented words fit by rune count", "café über naïve", 10, []string{"café über", "naïve"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := wrap(tt.text, tt.width)
			assert.Equal(t, tt.want, lines)
			for _, l := range lines {
				assert.True(t, utf8.ValidString(l), "line %q split inside a rune", l)
			}
		})
	}
}

func TestErrorPlaceholderReportsActualFormat(t *testing.T) {
	opts, err := Options{Width: 120, Height: 160, Format: FormatWebP}.Normalize()
	require.NoError(t, err)
	data, format := ErrorPlaceholder(2, opts)
	assert.Equal(t, FormatWebP, format)
	assert.Equal(t, "RIFF", string(data[:4]))

	// An encoder failure falls back to PNG and says so.
	opts.Format = "bmp"
	data, format = ErrorPlaceholder(2, opts)
	assert.Equal(t, FormatPNG, format)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 160), img.Bounds())
}

func TestTextPreview(t *testing.T) {
	doc := testDoc()
	data := testutil.BuildPDF("Revenue grew in the third quarter", "")
	opts, _ := Options{Width: 200, Height: 300, Format: FormatPNG}.Normalize()
	tp := NewTextPreview()

	withText, err := tp.Convert(context.Background(), Source{Document: doc, Data: data}, 1, opts)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(withText))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	// Image-only pages get the informative page, not an error.
	noText, err := tp.Convert(context.Background(), Source{Document: doc, Data: data}, 2, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, noText)
	assert.NotEqual(t, withText, noText)

	_, err = tp.Convert(context.Background(), Source{Document: doc, Data: data}, 3, opts)
	assert.Error(t, err, "page out of range")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "2.0 KiB", humanSize(2048))
	assert.Equal(t, "1.5 MiB", humanSize(3*512*1024))
}
