package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(1<<20), cfg.Scanner.MaxFileBytes)
	assert.Equal(t, 2, cfg.Chunking.MaxRetries)
	assert.Equal(t, 40, cfg.Chunking.Window)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
}

func TestLoadOverlay(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, DirName), 0o755))

	yaml := `
scanner:
  max_file_bytes: 2048
chunking:
  tool_enabled: true
  tool_command: ["claude", "-p"]
embedding:
  model: embeddinggemma
`
	require.NoError(t, os.WriteFile(filepath.Join(root, DirName, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, int64(2048), cfg.Scanner.MaxFileBytes)
	assert.True(t, cfg.Chunking.ToolEnabled)
	assert.Equal(t, []string{"claude", "-p"}, cfg.Chunking.ToolCommand)
	assert.Equal(t, "embeddinggemma", cfg.Embedding.Model)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Chunking.MaxRetries)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
}

func TestLoadMalformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, DirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, DirName, "config.yaml"), []byte("{not yaml"), 0o644))

	_, err := Load(root)
	assert.Error(t, err)
}
