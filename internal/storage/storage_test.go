package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "report.pdf", "report.pdf"},
		{"spaces", "my report final.pdf", "my_report_final.pdf"},
		{"special chars", "q3/earnings (draft)!.txt", "q3_earnings_draft_.txt"},
		{"uppercase", "README.TXT", "readme.txt"},
		{"empty", "", "unnamed"},
		{"only specials", "???", "unnamed"},
		{"collapses underscores", "a   b.txt", "a_b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "raw/doc-1/report.pdf", RawKey("doc-1", "Report.PDF"))
	assert.Equal(t, "raw/doc-1/", RawPrefix("doc-1"))
	assert.Equal(t, "extracted/doc-1.txt", ExtractedKey("doc-1"))
	assert.Equal(t, "embeddings/job-9.snapshot", SnapshotKey("job-9"))
	assert.True(t, strings.HasPrefix(RawKey("doc-1", "x"), RawPrefix("doc-1")))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "raw/doc-1/a.txt", strings.NewReader("hello"), 5, "text/plain"))

	exists, err := store.Exists(ctx, "raw/doc-1/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, "raw/doc-1/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = store.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "raw/doc-1/a.txt", strings.NewReader("a"), 1, ""))
	require.NoError(t, store.Put(ctx, "raw/doc-1/b.txt", strings.NewReader("b"), 1, ""))
	require.NoError(t, store.Put(ctx, "raw/doc-2/c.txt", strings.NewReader("c"), 1, ""))

	deleted, err := store.DeletePrefix(ctx, "raw/doc-1/")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, store.Len())

	exists, err := store.Exists(ctx, "raw/doc-2/c.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
