package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/fsutil"
)

const manifestSchemaVersion = 1

// EmbeddingInfo identifies the provider and model the index was built with.
type EmbeddingInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Manifest is the durable per-project state: the current file-hash table
// plus embedding metadata. It is overwritten atomically on every update.
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	Embedding     EmbeddingInfo     `json:"embedding"`
	Files         map[string]string `json:"files"`
	LastScanAt    time.Time         `json:"last_scan_at,omitzero"`
	LastCompactAt time.Time         `json:"last_compact_at,omitzero"`
}

// ManifestPath is where the manifest lives for a project.
func ManifestPath(projectRoot string) string {
	return filepath.Join(config.Dir(projectRoot), "manifest.json")
}

// LoadManifest reads the manifest, returning a fresh one when none exists.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{
			SchemaVersion: manifestSchemaVersion,
			Files:         make(map[string]string),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	return &m, nil
}

// Save writes the manifest atomically. encoding/json emits map keys sorted,
// so the file table is deterministic by path.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}
