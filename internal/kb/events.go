package kb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/config"
)

// Event types recorded in the append-only log.
const (
	EventScanComplete = "scan.complete"
	EventChunksUpsert = "chunks.upsert"
	EventFileRemove   = "file.remove"

	// metaEventType heads every snapshot file.
	metaEventType = "snapshot.meta"
)

// Event is one line of the knowledge-base event log. Only Type and TS are
// always present; the remaining fields depend on the event type.
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	TS     time.Time `json:"ts"`
	Path   string    `json:"path,omitempty"`
	Count  int       `json:"count,omitempty"`
	Writer string    `json:"writer,omitempty"`
	Change string    `json:"change,omitempty"`
	Task   string    `json:"task,omitempty"`
}

// snapshotMeta is the header line of a compaction snapshot.
type snapshotMeta struct {
	Type           string    `json:"type"`
	TS             time.Time `json:"ts"`
	EventsCount    int       `json:"events_count"`
	EmbeddingModel string    `json:"embedding_model"`
}

// EventLog appends JSONL events to a single file. An event is only ever
// written after the operation it describes has completed.
type EventLog struct {
	path string
}

// EventLogPath is where the event log lives for a project.
func EventLogPath(projectRoot string) string {
	return filepath.Join(config.Dir(projectRoot), "events.jsonl")
}

// SnapshotsDir is where compaction snapshots are written.
func SnapshotsDir(projectRoot string) string {
	return filepath.Join(config.Dir(projectRoot), "snapshots")
}

func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Append writes one event as a single JSON line. Missing IDs and
// timestamps are filled in.
func (l *EventLog) Append(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadAll returns the raw event lines in log order. A missing log reads
// as empty.
func (l *EventLog) ReadAll() ([]json.RawMessage, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var lines []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return lines, nil
}

// Count returns the number of events currently in the log.
func (l *EventLog) Count() (int, error) {
	lines, err := l.ReadAll()
	return len(lines), err
}

// Clear truncates the log. Only called after a snapshot has been
// durably written.
func (l *EventLog) Clear() error {
	err := os.Truncate(l.path, 0)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeSnapshot writes a snapshot file containing a meta header followed by
// the given event lines, and fsyncs it before returning. Names carry a
// nanosecond timestamp and files are opened exclusively, so a snapshot can
// never overwrite an earlier one.
func writeSnapshot(dir string, meta snapshotMeta, lines []json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshots dir: %w", err)
	}
	meta.Type = metaEventType
	name := fmt.Sprintf("snapshot-%s", meta.TS.UTC().Format("20060102T150405.000000000Z"))

	var f *os.File
	path := filepath.Join(dir, name+".jsonl")
	for n := 1; ; n++ {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create snapshot: %w", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.jsonl", name, n))
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	head, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode snapshot meta: %w", err)
	}
	w.Write(head)
	w.WriteByte('\n')
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	return path, nil
}
