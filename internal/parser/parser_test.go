package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hmo-buddy/internal/models"
)

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidConfig)
		})
	}
}

// hardText has no whitespace or periods, so every cut is a hard cut and
// trimming is a no-op; the overlap contract must hold exactly.
func hardText(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(alphabet)
	}
	return b.String()[:n]
}

func TestChunkText_OverlapContract(t *testing.T) {
	const size, overlap = 1000, 200
	p, err := New(size, overlap)
	require.NoError(t, err)

	text := hardText(2500)
	chunks := p.ChunkText(text)
	require.Len(t, chunks, 3) // ceil((2500-200)/(1000-200))

	for i := 0; i < len(chunks)-1; i++ {
		cur, next := chunks[i], chunks[i+1]
		assert.Equal(t, cur[len(cur)-overlap:], next[:overlap], "chunks %d and %d must share exactly %d chars", i, i+1, overlap)
	}

	// Dropping each subsequent chunk's overlap reconstructs the original.
	var rebuilt strings.Builder
	rebuilt.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		rebuilt.WriteString(c[overlap:])
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunkText_ZeroOverlap(t *testing.T) {
	p, err := New(100, 0)
	require.NoError(t, err)

	text := hardText(250)
	chunks := p.ChunkText(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkText_SoftBoundary(t *testing.T) {
	p, err := New(100, 20)
	require.NoError(t, err)

	// A sentence end sits past the window midpoint; the cut should land
	// right after it instead of mid-word.
	sentence := strings.Repeat("x", 80) + ". " + strings.Repeat("y", 200)
	chunks := p.ChunkText(sentence)
	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasSuffix(chunks[0], "."), "first chunk should end at the sentence boundary, got %q", chunks[0])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}
}

func TestChunkText_ShortText(t *testing.T) {
	p, err := New(1000, 200)
	require.NoError(t, err)

	chunks := p.ChunkText("HMO stands for Health Maintenance Organization.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "HMO stands for Health Maintenance Organization.", chunks[0])
}

func TestProcessDocument_TextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("HMO stands for Health Maintenance Organization."), 0o644))

	p, err := New(1000, 200)
	require.NoError(t, err)

	chunks, err := p.ProcessDocument(path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	chunk := chunks[0]
	assert.Equal(t, "test.txt", chunk.Source)
	assert.Equal(t, 0, chunk.Index)
	assert.Equal(t, 1, chunk.Total)
	assert.Equal(t, map[string]string{
		"source":       "test.txt",
		"chunk_index":  "0",
		"total_chunks": "1",
	}, chunk.Metadata())

	// Deterministic id: same source+index always hashes the same.
	again, err := p.ProcessDocument(path)
	require.NoError(t, err)
	assert.Equal(t, chunk.ID(), again[0].ID())
}

func TestProcessDocument_Markdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Coverage\n\nDental is included."), 0o644))

	p, err := New(1000, 200)
	require.NoError(t, err)

	chunks, err := p.ProcessDocument(path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	// Markdown is ingested verbatim, not rendered.
	assert.Contains(t, chunks[0].Content, "# Coverage")
}

func TestProcessDocument_Errors(t *testing.T) {
	dir := t.TempDir()
	p, err := New(1000, 200)
	require.NoError(t, err)

	t.Run("unsupported format", func(t *testing.T) {
		path := filepath.Join(dir, "binary.exe")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
		_, err := p.ProcessDocument(path)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("empty document", func(t *testing.T) {
		path := filepath.Join(dir, "blank.txt")
		require.NoError(t, os.WriteFile(path, []byte("   \n\t  "), 0o644))
		_, err := p.ProcessDocument(path)
		assert.ErrorIs(t, err, models.ErrEmptyDocument)
	})

	t.Run("read failure", func(t *testing.T) {
		_, err := p.ProcessDocument(filepath.Join(dir, "missing.txt"))
		assert.ErrorIs(t, err, models.ErrRead)
	})
}

func TestProcessDirectory_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.txt"), []byte("Premiums are due monthly."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blank.txt"), []byte("   "), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("junk"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	p, err := New(1000, 200)
	require.NoError(t, err)

	chunks, skipped, err := p.ProcessDirectory(dir)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "good.txt", chunks[0].Source)

	// The empty file is recorded and skipped; unsupported files are
	// simply not candidates.
	require.Len(t, skipped, 1)
	assert.Equal(t, "blank.txt", skipped[0].Name)
	assert.ErrorIs(t, skipped[0].Err, models.ErrEmptyDocument)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.txt"))
	assert.True(t, Supported("a.MD"))
	assert.True(t, Supported("a.pdf"))
	assert.True(t, Supported("a.docx"))
	assert.False(t, Supported("a.exe"))
	assert.False(t, Supported("noext"))
}
