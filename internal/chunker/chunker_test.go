package chunker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mnemo/internal/chunker"
	"mnemo/internal/chunker/languages"
	"mnemo/internal/scanner"
)

func testOptions(toolEnabled bool) chunker.Options {
	return chunker.Options{
		MaxRetries:       2,
		RetryDelay:       time.Millisecond,
		Window:           40,
		Overlap:          10,
		MaxChunkChars:    8192,
		ToolEnabled:      toolEnabled,
		PriorityPatterns: []string{"README*", "docs/*.md"},
	}
}

func TestSelectStrategy(t *testing.T) {
	reg := languages.DefaultRegistry()
	runner := &scriptedRunner{}
	c := chunker.New(testOptions(true), reg, runner, zap.NewNop())

	// Priority patterns beat extensions.
	assert.Equal(t, chunker.StrategyTool, c.SelectStrategy("README.md"))
	assert.Equal(t, chunker.StrategyTool, c.SelectStrategy("README.go"))
	assert.Equal(t, chunker.StrategyTool, c.SelectStrategy("docs/guide.md"))

	assert.Equal(t, chunker.StrategyStructural, c.SelectStrategy("internal/a/b.go"))
	assert.Equal(t, chunker.StrategyStructural, c.SelectStrategy("web/app.tsx"))
	assert.Equal(t, chunker.StrategyNaive, c.SelectStrategy("Makefile"))
	assert.Equal(t, chunker.StrategyNaive, c.SelectStrategy("notes.txt"))
}

func TestSelectStrategyToolDisabled(t *testing.T) {
	reg := languages.DefaultRegistry()
	c := chunker.New(testOptions(false), reg, nil, zap.NewNop())

	// With the tool disabled, priority files fall through to the other strategies.
	assert.Equal(t, chunker.StrategyNaive, c.SelectStrategy("README.md"))
	assert.Equal(t, chunker.StrategyStructural, c.SelectStrategy("main.go"))
}

func TestChunkFileNaivePath(t *testing.T) {
	reg := languages.DefaultRegistry()
	c := chunker.New(testOptions(false), reg, nil, zap.NewNop())

	file := scanner.ScannedFile{RelPath: "notes.txt", SHA256: "abc", IsText: true}
	res := c.ChunkFile(context.Background(), file, []byte("alpha\nbeta\n"))

	assert.Equal(t, chunker.StatusSuccess, res.Status)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "notes.txt", res.Chunks[0].SourcePath)
	assert.Equal(t, chunker.KindFallback, res.Chunks[0].Kind)
}

func TestChunkIDDeterministic(t *testing.T) {
	assert.Equal(t, chunker.ChunkID("a/b.go", 0), chunker.ChunkID("a/b.go", 0))
	assert.NotEqual(t, chunker.ChunkID("a/b.go", 0), chunker.ChunkID("a/b.go", 1))
	assert.NotEqual(t, chunker.ChunkID("a/b.go", 0), chunker.ChunkID("a/c.go", 0))
}
