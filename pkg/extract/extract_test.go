package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemill/pagemill/internal/config"
)

func TestPlaintextExtract(t *testing.T) {
	ctx := context.Background()
	e := NewPlaintextExtractor()

	text, err := e.Extract(ctx, []byte("hello world"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = e.Extract(ctx, []byte{0xff, 0xfe, 0xfd}, "a.txt")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func newPDFExtractor(serviceURL string) *PDFExtractor {
	cfg := &config.Config{}
	cfg.Pipeline.PDFServiceURL = serviceURL
	cfg.Pipeline.PDFServiceTimeout = 0
	return NewPDFExtractor(cfg, slog.Default())
}

func TestRegistryRouting(t *testing.T) {
	registry := NewRegistry(NewPlaintextExtractor(), newPDFExtractor("http://pdf.internal"))

	e, err := registry.ForFilename("notes.TXT")
	require.NoError(t, err)
	assert.IsType(t, &PlaintextExtractor{}, e)

	e, err = registry.ForFilename("report.pdf")
	require.NoError(t, err)
	assert.IsType(t, &PDFExtractor{}, e)

	_, err = registry.ForFilename("video.mp4")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestRegistryExcludesDisabledPDF(t *testing.T) {
	registry := NewRegistry(NewPlaintextExtractor(), newPDFExtractor(""))

	_, err := registry.ForFilename("report.pdf")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPDFExtractSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/extract", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "doc.pdf", header.Filename)
		fmt.Fprint(w, `{"content": "extracted pdf text"}`)
	}))
	defer srv.Close()

	e := newPDFExtractor(srv.URL)
	text, err := e.Extract(context.Background(), []byte("%PDF-1.4 fake"), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
}

func TestPDFExtractCorruptFileIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Invalid PDF"}`)
	}))
	defer srv.Close()

	e := newPDFExtractor(srv.URL)
	_, err := e.Extract(context.Background(), []byte("garbage"), "bad.pdf")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "Invalid PDF")
}

func TestPDFExtractServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newPDFExtractor(srv.URL)
	_, err := e.Extract(context.Background(), []byte("%PDF"), "doc.pdf")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
