package kb

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogAppendAndRead(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))

	require.NoError(t, log.Append(Event{Type: EventChunksUpsert, Path: "main.go", Count: 3}))
	require.NoError(t, log.Append(Event{Type: EventFileRemove, Path: "old.go", Writer: "alice"}))

	lines, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, EventChunksUpsert, first.Type)
	assert.Equal(t, "main.go", first.Path)
	assert.Equal(t, 3, first.Count)
	assert.NotEmpty(t, first.ID, "missing IDs are filled in")
	assert.False(t, first.TS.IsZero(), "missing timestamps are filled in")

	n, err := log.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEventLogMissingReadsEmpty(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))

	lines, err := log.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, lines)
	require.NoError(t, log.Clear())
}

func TestEventLogClear(t *testing.T) {
	log := NewEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, log.Append(Event{Type: EventScanComplete}))
	require.NoError(t, log.Clear())

	n, err := log.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	lines := []json.RawMessage{
		json.RawMessage(`{"type":"chunks.upsert","path":"a.go"}`),
		json.RawMessage(`{"type":"file.remove","path":"b.go"}`),
	}

	path, err := writeSnapshot(dir, snapshotMeta{EventsCount: 2, EmbeddingModel: "nomic-embed-text"}, lines)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	got := readLines(t, path)
	require.Len(t, got, 3, "meta header plus two events")

	var meta snapshotMeta
	require.NoError(t, json.Unmarshal(got[0], &meta))
	assert.Equal(t, "snapshot.meta", meta.Type)
	assert.Equal(t, 2, meta.EventsCount)
	assert.Equal(t, "nomic-embed-text", meta.EmbeddingModel)
	assert.JSONEq(t, string(lines[0]), string(got[1]))
	assert.JSONEq(t, string(lines[1]), string(got[2]))
}

func TestWriteSnapshotNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	ts := time.Date(2026, 8, 31, 5, 57, 20, 0, time.UTC)
	first := []json.RawMessage{json.RawMessage(`{"type":"file.remove","path":"first.go"}`)}
	second := []json.RawMessage{json.RawMessage(`{"type":"file.remove","path":"second.go"}`)}

	p1, err := writeSnapshot(dir, snapshotMeta{TS: ts, EventsCount: 1}, first)
	require.NoError(t, err)
	p2, err := writeSnapshot(dir, snapshotMeta{TS: ts, EventsCount: 1}, second)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2, "identical timestamps must not share a path")
	assert.JSONEq(t, string(first[0]), string(readLines(t, p1)[1]))
	assert.JSONEq(t, string(second[0]), string(readLines(t, p2)[1]))
}

func TestWriteSnapshotEmptyEvents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")

	path, err := writeSnapshot(dir, snapshotMeta{EventsCount: 0, EmbeddingModel: "nomic-embed-text"}, nil)
	require.NoError(t, err)

	lines := readLines(t, path)
	require.Len(t, lines, 1, "meta header only")
	var meta snapshotMeta
	require.NoError(t, json.Unmarshal(lines[0], &meta))
	assert.Zero(t, meta.EventsCount)
}

func readLines(t *testing.T, path string) []json.RawMessage {
	t.Helper()
	lines, err := NewEventLog(path).ReadAll()
	require.NoError(t, err)
	return lines
}
