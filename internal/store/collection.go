// Package store provides the vector collection the knowledge base writes to.
// The core only relies on get/upsert/delete with source_path filtering plus
// nearest-neighbor query; the SQLite + sqlite-vec backing is an
// implementation detail behind the Collection interface.
package store

// Record is one stored chunk with its document text and metadata.
type Record struct {
	ID        string
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

// ScoredRecord is a query hit with its distance to the query vector.
type ScoredRecord struct {
	Record
	Distance float64
}

// Filter selects records by source path: exact match via SourcePath, set
// membership via SourcePaths. A zero Filter matches everything.
type Filter struct {
	SourcePath  string
	SourcePaths []string
}

func (f Filter) empty() bool {
	return f.SourcePath == "" && len(f.SourcePaths) == 0
}

// Field names accepted by Get.
const (
	FieldDocument  = "document"
	FieldMetadata  = "metadata"
	FieldEmbedding = "embedding"
)

// Collection is the opaque vector store consumed by the knowledge base.
type Collection interface {
	// Get returns records matching the filter. fields limits which record
	// fields are populated; nil means document and metadata.
	Get(filter Filter, fields []string) ([]Record, error)
	// Upsert inserts or replaces records by ID. The four slices are
	// parallel and must have equal length.
	Upsert(ids []string, documents []string, metadatas []map[string]string, embeddings [][]float32) error
	// Delete removes all records matching the filter.
	Delete(filter Filter) error
	// Query returns the k records nearest to the embedding.
	Query(embedding []float32, k int) ([]ScoredRecord, error)
	// Close releases the backing store.
	Close() error
}
