package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/scanner"
)

func naiveFile() scanner.ScannedFile {
	return scanner.ScannedFile{RelPath: "notes.txt", SHA256: "deadbeef", IsText: true}
}

func TestNaiveChunksSingleLine(t *testing.T) {
	chunks := NaiveChunks(naiveFile(), "", []byte("x"), 40, 10, 8192)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1, chunks[0].EndLine)
	assert.Equal(t, "x", chunks[0].Text)
	assert.Equal(t, KindFallback, chunks[0].Kind)
	assert.Equal(t, "deadbeef", chunks[0].SourceSHA256)
}

func TestNaiveChunksEmpty(t *testing.T) {
	assert.Nil(t, NaiveChunks(naiveFile(), "", nil, 40, 10, 8192))
}

func TestNaiveChunksWindowAdvance(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("line\n")
	}
	// 100 "line" lines plus a trailing empty line from the final \n.
	chunks := NaiveChunks(naiveFile(), "", []byte(b.String()), 40, 10, 1<<20)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.LessOrEqual(t, c.StartLine, c.EndLine, "chunk %d", i)
		if i > 0 {
			// Boundaries advance by exactly window-overlap lines.
			assert.Equal(t, chunks[i-1].StartLine+30, c.StartLine, "chunk %d", i)
			// Overlap stitches: no line between consecutive chunks is skipped.
			assert.LessOrEqual(t, c.StartLine, chunks[i-1].EndLine+1, "chunk %d", i)
		}
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 101, chunks[len(chunks)-1].EndLine)
}

func TestNaiveChunksTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)
	chunks := NaiveChunks(naiveFile(), "", []byte(long), 40, 10, 100)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Text, 100)
}

func TestNaiveChunksStableIDs(t *testing.T) {
	src := []byte("one\ntwo\nthree\n")
	a := NaiveChunks(naiveFile(), "", src, 40, 10, 8192)
	b := NaiveChunks(naiveFile(), "", src, 40, 10, 8192)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}
