package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"
)

// Pdftoppm rasterizes pages with poppler's pdftoppm.
type Pdftoppm struct {
	path string
}

// NewPdftoppm creates the converter. An empty path uses "pdftoppm" from PATH.
func NewPdftoppm(path string) *Pdftoppm {
	if path == "" {
		path = "pdftoppm"
	}
	return &Pdftoppm{path: path}
}

func (p *Pdftoppm) Name() string { return "pdftoppm" }

func (p *Pdftoppm) Convert(ctx context.Context, src Source, page int, opts Options) ([]byte, error) {
	in, cleanup, err := writeTemp(src.Data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	n := strconv.Itoa(page)
	// Without an output root pdftoppm writes the single page to stdout.
	cmd := exec.CommandContext(ctx, p.path,
		"-png",
		"-singlefile",
		"-f", n, "-l", n,
		"-scale-to", strconv.Itoa(max(opts.Width, opts.Height)),
		in,
	)
	return rasterize(cmd, opts)
}

// Ghostscript rasterizes pages with gs.
type Ghostscript struct {
	path string
}

// NewGhostscript creates the converter. An empty path uses "gs" from PATH.
func NewGhostscript(path string) *Ghostscript {
	if path == "" {
		path = "gs"
	}
	return &Ghostscript{path: path}
}

func (g *Ghostscript) Name() string { return "ghostscript" }

func (g *Ghostscript) Convert(ctx context.Context, src Source, page int, opts Options) ([]byte, error) {
	in, cleanup, err := writeTemp(src.Data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, g.path,
		"-q",
		"-dSAFER",
		"-dBATCH",
		"-dNOPAUSE",
		"-sDEVICE=png16m",
		"-r"+strconv.Itoa(resolutionFor(opts)),
		"-dFirstPage="+n,
		"-dLastPage="+n,
		"-sOutputFile=-",
		in,
	)
	return rasterize(cmd, opts)
}

// resolutionFor picks a DPI that produces roughly the requested size for a
// Letter/A4 page, so the final scale step works on a similar-sized raster.
func resolutionFor(opts Options) int {
	dpi := max(opts.Width*72/612, opts.Height*72/792)
	return min(max(dpi, 36), 300)
}

// rasterize runs a converter process that writes one PNG page to stdout,
// then fits and encodes it.
func rasterize(cmd *exec.Cmd, opts Options) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, fmt.Errorf("%s failed: %w: %s", cmd.Path, err, msg)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s produced no output", cmd.Path)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", cmd.Path, err)
	}
	return finish(FitContain(img, opts.Width, opts.Height), opts)
}
