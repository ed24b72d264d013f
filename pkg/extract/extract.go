// Package extract turns uploaded files into plain UTF-8 text. Extractors are
// selected by filename suffix; unsupported types and corrupt files are
// permanent failures, infrastructure problems are transient.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/fx"
)

// ErrPermanent marks extraction failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent extraction error")

// ErrUnsupported is returned for file types no extractor handles. Permanent.
var ErrUnsupported = fmt.Errorf("%w: unsupported file type", ErrPermanent)

// IsPermanent reports whether an extraction error should dead-letter the job.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Extractor converts one file format to text.
type Extractor interface {
	// Extract returns the file's text content as UTF-8.
	Extract(ctx context.Context, content []byte, filename string) (string, error)
	// Extensions lists the lowercase suffixes (with dot) this extractor
	// handles.
	Extensions() []string
}

var Module = fx.Module("extract",
	fx.Provide(NewPlaintextExtractor),
	fx.Provide(NewPDFExtractor),
	fx.Provide(NewRegistry),
)

// Registry routes files to extractors by suffix.
type Registry struct {
	byExt map[string]Extractor
}

func NewRegistry(plaintext *PlaintextExtractor, pdf *PDFExtractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.register(plaintext)
	if pdf.Enabled() {
		r.register(pdf)
	}
	return r
}

func (r *Registry) register(e Extractor) {
	for _, ext := range e.Extensions() {
		r.byExt[ext] = e
	}
}

// ForFilename returns the extractor for a filename, or ErrUnsupported.
func (r *Registry) ForFilename(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return e, nil
}

// Supported lists the registered suffixes.
func (r *Registry) Supported() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}
