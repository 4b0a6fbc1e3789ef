package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mnemo/internal/config"
	"mnemo/internal/fsutil"
)

// Attribution is the provenance stamp supplied with an update: who wrote
// the change, and optional change and task identifiers.
type Attribution struct {
	Writer string
	Change string
	Task   string
}

// AttributionRecord is the accumulated provenance for one source file.
// CreatedBy is set once and never overwritten; the list fields grow
// append-only with duplicates suppressed.
type AttributionRecord struct {
	CreatedBy      string   `json:"created_by"`
	ModifiedBy     []string `json:"modified_by"`
	RelatedChanges []string `json:"related_changes,omitempty"`
	RelatedTasks   []string `json:"related_tasks,omitempty"`
}

// Merge folds a new attribution into the record.
func (r *AttributionRecord) Merge(a Attribution) {
	if r.CreatedBy == "" {
		r.CreatedBy = a.Writer
	}
	r.ModifiedBy = appendDistinct(r.ModifiedBy, a.Writer)
	r.RelatedChanges = appendDistinct(r.RelatedChanges, a.Change)
	r.RelatedTasks = appendDistinct(r.RelatedTasks, a.Task)
}

func appendDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}

// AttributionIndex is the sidecar file mapping source paths to their
// provenance records. The vector store carries a denormalized copy in
// chunk metadata; this file is the authoritative one.
type AttributionIndex struct {
	Files map[string]*AttributionRecord `json:"files"`
}

// AttributionPath is where the sidecar index lives for a project.
func AttributionPath(projectRoot string) string {
	return filepath.Join(config.Dir(projectRoot), "attribution.json")
}

func LoadAttributionIndex(path string) (*AttributionIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &AttributionIndex{Files: make(map[string]*AttributionRecord)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attribution index: %w", err)
	}
	var idx AttributionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse attribution index: %w", err)
	}
	if idx.Files == nil {
		idx.Files = make(map[string]*AttributionRecord)
	}
	return &idx, nil
}

func (idx *AttributionIndex) Save(path string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode attribution index: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// encodeList stores a string list as JSON inside a metadata string value.
func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeList is the inverse of encodeList. Malformed input reads as empty.
func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
