// Package validator inspects raw upload bytes before any processing.
//
// Validation is a pure function over the bytes: it never touches storage
// or the database. Checks run in a fixed order and stop at the first
// failure, so a 50-byte file is rejected on size without ever being
// scanned for structure.
package validator

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
)

// Default limits.
const (
	DefaultMinSize  = 1 << 10   // 1 KiB
	DefaultMaxSize  = 100 << 20 // 100 MiB
	DefaultMaxPages = 1000
)

// Warning is a non-fatal finding. Callers may log it but must not
// block processing on it.
type Warning string

const (
	WarnEncrypted     Warning = "document declares encryption"
	WarnJavaScript    Warning = "document contains embedded JavaScript"
	WarnEmbeddedFiles Warning = "document contains embedded files"
	WarnExternalLinks Warning = "document contains external links"
)

// Result describes a buffer that passed validation.
type Result struct {
	Version        string    // e.g. "1.7"
	Size           int64     // bytes
	EstimatedPages int       // heuristic count of /Type /Page objects
	Warnings       []Warning // never fatal
}

// Options configures the size and page limits.
type Options struct {
	MinSize  int64
	MaxSize  int64
	MaxPages int
}

// Validator checks uploads against the configured limits.
type Validator struct {
	opts Options
}

// New creates a validator. Zero option values fall back to the defaults.
func New(opts Options) *Validator {
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	return &Validator{opts: opts}
}

// Options returns the effective limits.
func (v *Validator) Options() Options {
	return v.opts
}

// Validate checks data with an optional filename.
func (v *Validator) Validate(data []byte, filename string) (*Result, error) {
	return v.ValidateUpload(data, filename, "")
}

// ValidateUpload checks data plus the client-declared filename and MIME
// type. Either may be empty, in which case that check is skipped.
func (v *Validator) ValidateUpload(data []byte, filename, mimeType string) (*Result, error) {
	// Step 1: size bounds
	size := int64(len(data))
	if size < v.opts.MinSize {
		return nil, docerr.New(docerr.InvalidPdf, "file is too small to be a PDF (%d bytes, minimum %d)", size, v.opts.MinSize)
	}
	if size > v.opts.MaxSize {
		return nil, docerr.New(docerr.TooLarge, "file is %d bytes, maximum is %d", size, v.opts.MaxSize)
	}

	// Step 2: declared type
	if err := checkDeclaredType(filename, mimeType); err != nil {
		return nil, err
	}

	// Step 3: header and version
	version, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	// Step 4: structural sanity
	if err := checkStructure(data); err != nil {
		return nil, err
	}

	// Step 5: page count estimate
	pages := EstimatePageCount(data)
	if pages > v.opts.MaxPages {
		return nil, docerr.New(docerr.TooLarge, "document has about %d pages, maximum is %d", pages, v.opts.MaxPages)
	}

	return &Result{
		Version:        version,
		Size:           size,
		EstimatedPages: pages,
		Warnings:       scanWarnings(data),
	}, nil
}

var pdfMimeTypes = map[string]bool{
	"application/pdf":      true,
	"application/x-pdf":    true,
	"application/acrobat":  true,
	"applications/vnd.pdf": true,
	"text/pdf":             true,
	"text/x-pdf":           true,
}

func checkDeclaredType(filename, mimeType string) error {
	if filename != "" {
		ext := strings.ToLower(filepath.Ext(filename))
		if ext != ".pdf" {
			return docerr.New(docerr.InvalidPdf, "unsupported file extension %q, only .pdf is accepted", ext)
		}
	}
	if mimeType != "" {
		// Strip parameters such as "; charset=binary"
		base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
		// Generic clients send octet-stream for everything; the header check decides.
		if base != "application/octet-stream" && !pdfMimeTypes[base] {
			return docerr.New(docerr.InvalidPdf, "unsupported content type %q", mimeType)
		}
	}
	return nil
}

var headerPattern = regexp.MustCompile(`^%PDF-(\d+)\.(\d+)`)

// parseHeader requires the "%PDF-" magic at offset 0 and a version in [1.0, 2.0].
func parseHeader(data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", docerr.New(docerr.InvalidPdf, "missing %%PDF- header")
	}

	head := data
	if len(head) > 16 {
		head = head[:16]
	}
	m := headerPattern.FindSubmatch(head)
	if m == nil {
		return "", docerr.New(docerr.InvalidPdf, "unreadable PDF version in header")
	}

	major, _ := strconv.Atoi(string(m[1]))
	minor, _ := strconv.Atoi(string(m[2]))
	if major < 1 || major > 2 || (major == 2 && minor > 0) {
		return "", docerr.New(docerr.InvalidPdf, "unsupported PDF version %d.%d", major, minor)
	}
	return fmt.Sprintf("%d.%d", major, minor), nil
}

// checkStructure looks for the markers every PDF writer emits: the
// end-of-file marker, at least one object, and a cross-reference table
// or stream.
func checkStructure(data []byte) error {
	if !bytes.Contains(data, []byte("%%EOF")) {
		return docerr.New(docerr.CorruptedFile, "missing %%%%EOF marker, the file is probably truncated")
	}

	// "endobj" contains "obj" itself, so require an earlier opening "obj".
	lastEnd := bytes.LastIndex(data, []byte("endobj"))
	firstObj := bytes.Index(data, []byte("obj"))
	if lastEnd < 0 || firstObj < 0 || firstObj >= lastEnd {
		return docerr.New(docerr.CorruptedFile, "no complete obj/endobj pair found")
	}

	if !bytes.Contains(data, []byte("xref")) && !bytes.Contains(data, []byte("/XRef")) {
		return docerr.New(docerr.CorruptedFile, "no cross-reference table or stream found")
	}
	return nil
}

var pageTypePattern = regexp.MustCompile(`/Type\s*/Page\b`)

// EstimatePageCount counts "/Type /Page" dictionaries. The trailing \b
// keeps "/Type /Pages" tree nodes out of the count. Pages stored inside
// compressed object streams are invisible to this scan, so the result is
// a lower bound.
func EstimatePageCount(data []byte) int {
	return len(pageTypePattern.FindAllIndex(data, -1))
}

func scanWarnings(data []byte) []Warning {
	var warnings []Warning
	if bytes.Contains(data, []byte("/Encrypt")) {
		warnings = append(warnings, WarnEncrypted)
	}
	if bytes.Contains(data, []byte("/JavaScript")) || bytes.Contains(data, []byte("/JS")) {
		warnings = append(warnings, WarnJavaScript)
	}
	if bytes.Contains(data, []byte("/EmbeddedFile")) {
		warnings = append(warnings, WarnEmbeddedFiles)
	}
	if bytes.Contains(data, []byte("/URI")) {
		warnings = append(warnings, WarnExternalLinks)
	}
	return warnings
}
