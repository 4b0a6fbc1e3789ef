package kb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributionMergeMonotonic(t *testing.T) {
	rec := &AttributionRecord{}

	rec.Merge(Attribution{Writer: "alice", Change: "ch-1"})
	rec.Merge(Attribution{Writer: "bob", Task: "task-9"})
	rec.Merge(Attribution{Writer: "alice", Change: "ch-1"})
	rec.Merge(Attribution{Writer: "carol", Change: "ch-2"})

	assert.Equal(t, "alice", rec.CreatedBy, "created_by is set once")
	assert.Equal(t, []string{"alice", "bob", "carol"}, rec.ModifiedBy)
	assert.Equal(t, []string{"ch-1", "ch-2"}, rec.RelatedChanges)
	assert.Equal(t, []string{"task-9"}, rec.RelatedTasks)
}

func TestAttributionMergeIgnoresEmptyFields(t *testing.T) {
	rec := &AttributionRecord{CreatedBy: "alice", ModifiedBy: []string{"alice"}}
	rec.Merge(Attribution{Writer: "bob"})

	assert.Equal(t, "alice", rec.CreatedBy)
	assert.Equal(t, []string{"alice", "bob"}, rec.ModifiedBy)
	assert.Empty(t, rec.RelatedChanges)
	assert.Empty(t, rec.RelatedTasks)
}

func TestAttributionIndexRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attribution.json")

	idx, err := LoadAttributionIndex(path)
	require.NoError(t, err)
	rec := &AttributionRecord{}
	rec.Merge(Attribution{Writer: "alice", Change: "ch-1"})
	idx.Files["main.go"] = rec
	require.NoError(t, idx.Save(path))

	got, err := LoadAttributionIndex(path)
	require.NoError(t, err)
	require.Contains(t, got.Files, "main.go")
	assert.Equal(t, "alice", got.Files["main.go"].CreatedBy)
	assert.Equal(t, []string{"ch-1"}, got.Files["main.go"].RelatedChanges)
}

func TestEncodeDecodeList(t *testing.T) {
	assert.Equal(t, "[]", encodeList(nil))
	assert.Equal(t, `["a","b"]`, encodeList([]string{"a", "b"}))

	assert.Nil(t, decodeList(""))
	assert.Nil(t, decodeList("not json"))
	assert.Equal(t, []string{"a", "b"}, decodeList(`["a","b"]`))
	assert.Empty(t, decodeList("[]"))
}
