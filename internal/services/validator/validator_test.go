package validator

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
)

// buildPDF assembles a structurally plausible PDF with the given number of
// page objects, padded with a comment so it clears the minimum size.
func buildPDF(version string, pages int, extra string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%PDF-%s\n", version)
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Count ")
	fmt.Fprintf(&b, "%d >>\nendobj\n", pages)
	for i := 0; i < pages; i++ {
		fmt.Fprintf(&b, "%d 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n", i+3)
	}
	b.WriteString(extra)
	b.WriteString("%" + strings.Repeat("x", 1100) + "\n")
	b.WriteString("xref\n0 1\n0000000000 65535 f \ntrailer\n<< /Root 1 0 R >>\nstartxref\n9\n%%EOF\n")
	return b.Bytes()
}

func kindOf(t *testing.T, err error) docerr.Kind {
	t.Helper()
	require.Error(t, err)
	return docerr.KindOf(err)
}

func TestValidateAcceptsMinimalPDF(t *testing.T) {
	v := New(Options{})
	res, err := v.Validate(buildPDF("1.4", 3, ""), "report.pdf")

	require.NoError(t, err)
	assert.Equal(t, "1.4", res.Version)
	assert.Equal(t, 3, res.EstimatedPages)
	assert.Empty(t, res.Warnings)
}

func TestValidateRejections(t *testing.T) {
	truncated := []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\nxref\n" + strings.Repeat("A", 2048))

	tests := []struct {
		name     string
		opts     Options
		data     []byte
		filename string
		mime     string
		want     docerr.Kind
	}{
		{
			name: "below minimum size",
			data: []byte("%PDF-1.4\n%%EOF"),
			want: docerr.InvalidPdf,
		},
		{
			name: "above maximum size",
			opts: Options{MaxSize: 1200},
			data: buildPDF("1.4", 1, ""),
			want: docerr.TooLarge,
		},
		{
			name: "missing magic",
			data: append([]byte("GIF89a"), buildPDF("1.4", 1, "")...),
			want: docerr.InvalidPdf,
		},
		{
			name: "version above 2.0",
			data: buildPDF("2.1", 1, ""),
			want: docerr.InvalidPdf,
		},
		{
			name: "missing EOF marker",
			data: truncated,
			want: docerr.CorruptedFile,
		},
		{
			name: "too many pages",
			opts: Options{MaxPages: 2},
			data: buildPDF("1.7", 5, ""),
			want: docerr.TooLarge,
		},
		{
			name:     "wrong extension",
			data:     buildPDF("1.4", 1, ""),
			filename: "notes.docx",
			want:     docerr.InvalidPdf,
		},
		{
			name: "wrong content type",
			data: buildPDF("1.4", 1, ""),
			mime: "image/png",
			want: docerr.InvalidPdf,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts).ValidateUpload(tt.data, tt.filename, tt.mime)
			assert.Equal(t, tt.want, kindOf(t, err))
		})
	}
}

func TestValidateSizeCheckedFirst(t *testing.T) {
	// A tiny buffer without a header must still fail on size.
	_, err := New(Options{}).Validate([]byte("hello"), "x.pdf")
	de := docerr.As(err)
	require.NotNil(t, de)
	assert.Equal(t, docerr.InvalidPdf, de.Kind)
	assert.Contains(t, de.Message, "too small")
}

func TestValidateContentTypeParameters(t *testing.T) {
	_, err := New(Options{}).ValidateUpload(buildPDF("1.5", 1, ""), "a.PDF", "application/pdf; charset=binary")
	assert.NoError(t, err)

	_, err = New(Options{}).ValidateUpload(buildPDF("1.5", 1, ""), "a.pdf", "application/octet-stream")
	assert.NoError(t, err, "octet-stream is treated as undeclared")
}

func TestValidateWarnings(t *testing.T) {
	extra := "9 0 obj\n<< /S /JavaScript /JS (app.alert(1)) /URI (https://example.com) >>\nendobj\n" +
		"10 0 obj\n<< /Encrypt 11 0 R /EmbeddedFile 12 0 R >>\nendobj\n"

	res, err := New(Options{}).Validate(buildPDF("1.6", 1, extra), "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Warning{WarnEncrypted, WarnJavaScript, WarnEmbeddedFiles, WarnExternalLinks}, res.Warnings)
}

func TestEstimatePageCountSkipsPageTree(t *testing.T) {
	data := []byte("<< /Type /Pages >> << /Type/Page >> << /Type /Page /X 1 >>")
	assert.Equal(t, 2, EstimatePageCount(data))
}
