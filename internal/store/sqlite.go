package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const schemaTemplate = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS records (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    document    TEXT NOT NULL,
    source_path TEXT NOT NULL DEFAULT '',
    metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_records_source_path ON records(source_path);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
    record_seq INTEGER PRIMARY KEY,
    embedding float[%d]
);
`

// SQLiteCollection implements Collection backed by SQLite + sqlite-vec.
type SQLiteCollection struct {
	db  *sql.DB
	dim int
}

// Open creates or opens the collection database at dbPath with the given
// embedding dimension.
func Open(dbPath string, dim int) (*SQLiteCollection, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(schemaTemplate, dim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteCollection{db: db, dim: dim}, nil
}

func (c *SQLiteCollection) Get(filter Filter, fields []string) ([]Record, error) {
	wantEmbedding := false
	for _, f := range fields {
		if f == FieldEmbedding {
			wantEmbedding = true
		}
	}

	where, args := filterClause(filter)
	query := "SELECT seq, id, document, metadata FROM records" + where + " ORDER BY seq"
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	var seqs []int64
	for rows.Next() {
		var seq int64
		var r Record
		var meta string
		if err := rows.Scan(&seq, &r.ID, &r.Document, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
		}
		records = append(records, r)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if wantEmbedding {
		for i, seq := range seqs {
			var blob []byte
			err := c.db.QueryRow("SELECT embedding FROM vec_records WHERE record_seq = ?", seq).Scan(&blob)
			if err == sql.ErrNoRows {
				continue
			}
			if err != nil {
				return nil, err
			}
			records[i].Embedding = deserializeFloat32(blob)
		}
	}
	return records, nil
}

func (c *SQLiteCollection) Upsert(ids []string, documents []string, metadatas []map[string]string, embeddings [][]float32) error {
	if len(ids) != len(documents) || len(ids) != len(metadatas) || len(ids) != len(embeddings) {
		return fmt.Errorf("mismatched upsert lengths: %d ids, %d documents, %d metadatas, %d embeddings",
			len(ids), len(documents), len(metadatas), len(embeddings))
	}

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, id := range ids {
		if len(embeddings[i]) != c.dim {
			return fmt.Errorf("embedding for %s has dimension %d, want %d", id, len(embeddings[i]), c.dim)
		}
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", id, err)
		}
		sourcePath := metadatas[i]["source_path"]

		var seq int64
		err = tx.QueryRow("SELECT seq FROM records WHERE id = ?", id).Scan(&seq)
		switch {
		case err == sql.ErrNoRows:
			res, ierr := tx.Exec(
				"INSERT INTO records (id, document, source_path, metadata) VALUES (?, ?, ?, ?)",
				id, documents[i], sourcePath, string(meta),
			)
			if ierr != nil {
				return ierr
			}
			if seq, ierr = res.LastInsertId(); ierr != nil {
				return ierr
			}
		case err != nil:
			return err
		default:
			if _, uerr := tx.Exec(
				"UPDATE records SET document = ?, source_path = ?, metadata = ? WHERE seq = ?",
				documents[i], sourcePath, string(meta), seq,
			); uerr != nil {
				return uerr
			}
			if _, derr := tx.Exec("DELETE FROM vec_records WHERE record_seq = ?", seq); derr != nil {
				return derr
			}
		}

		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for %s: %w", id, err)
		}
		if _, err := tx.Exec("INSERT INTO vec_records (record_seq, embedding) VALUES (?, ?)", seq, blob); err != nil {
			return fmt.Errorf("insert embedding for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (c *SQLiteCollection) Delete(filter Filter) error {
	where, args := filterClause(filter)

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM vec_records WHERE record_seq IN (SELECT seq FROM records"+where+")", args...,
	); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM records"+where, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *SQLiteCollection) Query(embedding []float32, k int) ([]ScoredRecord, error) {
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := c.db.Query(`
		SELECT v.distance, r.id, r.document, r.metadata
		FROM vec_records v
		JOIN records r ON r.seq = v.record_seq
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance
		LIMIT ?
	`, blob, k, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var sr ScoredRecord
		var meta string
		if err := rows.Scan(&sr.Distance, &sr.ID, &sr.Document, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &sr.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", sr.ID, err)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

func (c *SQLiteCollection) Close() error {
	return c.db.Close()
}

func filterClause(f Filter) (string, []any) {
	switch {
	case f.SourcePath != "":
		return " WHERE source_path = ?", []any{f.SourcePath}
	case len(f.SourcePaths) > 0:
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(f.SourcePaths)), ", ")
		args := make([]any, len(f.SourcePaths))
		for i, p := range f.SourcePaths {
			args[i] = p
		}
		return " WHERE source_path IN (" + placeholders + ")", args
	default:
		return "", nil
	}
}

// deserializeFloat32 decodes the little-endian float32 blob stored by
// sqlite-vec.
func deserializeFloat32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		bits := uint32(blob[i*4]) | uint32(blob[i*4+1])<<8 | uint32(blob[i*4+2])<<16 | uint32(blob[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
