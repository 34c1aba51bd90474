package validator

import (
	"bytes"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
)

func init() {
	// pdfcpu otherwise creates a config directory under the user's home.
	api.DisableConfigDir()
}

// Structure is what a full parse reports about a document.
type Structure struct {
	PageCount int
}

// Inspector parses the whole document with pdfcpu. It is slower than
// Validate and runs inside the worker, not on the upload path.
type Inspector struct {
	maxPages int
}

// NewInspector creates an inspector enforcing maxPages (0 means the default).
func NewInspector(maxPages int) *Inspector {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Inspector{maxPages: maxPages}
}

// Inspect returns the exact page count. Encrypted documents that need a
// user password fail with PasswordProtected, unparseable ones with
// CorruptedFile.
func (in *Inspector) Inspect(data []byte) (s *Structure, err error) {
	defer func() {
		// pdfcpu can panic on badly broken cross-reference data.
		if r := recover(); r != nil {
			s, err = nil, docerr.New(docerr.CorruptedFile, "pdf parser crashed: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
			return nil, docerr.Wrap(docerr.PasswordProtected, err, "document requires a password")
		}
		return nil, docerr.Wrap(docerr.CorruptedFile, err, "document structure could not be parsed")
	}
	if pages < 1 {
		return nil, docerr.New(docerr.CorruptedFile, "document has no pages")
	}
	if pages > in.maxPages {
		return nil, docerr.New(docerr.TooLarge, "document has %d pages, maximum is %d", pages, in.maxPages)
	}
	return &Structure{PageCount: pages}, nil
}
