package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/clinsync/clinsync-go/internal/errors"
)

// Document is one indexed piece of migrated free text.
type Document struct {
	ID          int64
	SourceTable string
	SourceID    int64
	PatientKey  string
	Subject     string
	Content     string
}

// SearchHit is one nearest-neighbor result.
type SearchHit struct {
	Document Document
	Distance float64
}

const kbSchema = `
CREATE TABLE IF NOT EXISTS kb_documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_table TEXT NOT NULL,
    source_id INTEGER NOT NULL,
    patient_key TEXT,
    subject TEXT,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(source_table, source_id)
);
`

// KnowledgeBase is a sqlite-vec backed document index. Vectors live in a
// vec0 virtual table keyed by the document rowid; lookups join back to the
// document table.
type KnowledgeBase struct {
	mu   sync.Mutex
	db   *sql.DB
	dims int
}

// OpenKnowledgeBase opens (or creates) the knowledge base at path with the
// given embedding dimension.
func OpenKnowledgeBase(path string, dims int) (*KnowledgeBase, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, wrapKB(err, "open")
	}
	if _, err := db.Exec(kbSchema); err != nil {
		_ = db.Close()
		return nil, wrapKB(err, "schema")
	}
	// vec0 requires the dimension at creation time, so the table is tied to
	// the configured provider.
	vecDDL := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS kb_vec USING vec0(embedding float[%d])`, dims)
	if _, err := db.Exec(vecDDL); err != nil {
		_ = db.Close()
		return nil, wrapKB(err, "vec-schema")
	}
	return &KnowledgeBase{db: db, dims: dims}, nil
}

// AddDocument indexes one document with its embedding. Re-adding the same
// source row replaces the previous version.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, doc Document, embedding []float32) error {
	if len(embedding) != kb.dims {
		return wrapKB(fmt.Errorf("embedding has %d dimensions, expected %d", len(embedding), kb.dims), "add")
	}
	vector, err := json.Marshal(embedding)
	if err != nil {
		return wrapKB(err, "add")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	tx, err := kb.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapKB(err, "add")
	}
	defer func() { _ = tx.Rollback() }()

	// Drop any previous version of this source row, vector first.
	var oldID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM kb_documents WHERE source_table = ? AND source_id = ?`,
		doc.SourceTable, doc.SourceID).Scan(&oldID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM kb_vec WHERE rowid = ?`, oldID); err != nil {
			return wrapKB(err, "add")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kb_documents WHERE id = ?`, oldID); err != nil {
			return wrapKB(err, "add")
		}
	case errors.Is(err, sql.ErrNoRows):
		// First time for this source row.
	default:
		return wrapKB(err, "add")
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO kb_documents (source_table, source_id, patient_key, subject, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.SourceTable, doc.SourceID, doc.PatientKey, doc.Subject, doc.Content, time.Now().Unix())
	if err != nil {
		return wrapKB(err, "add")
	}
	docID, err := result.LastInsertId()
	if err != nil {
		return wrapKB(err, "add")
	}

	// vec0 does not reliably support INSERT OR REPLACE; rowid pairing with the
	// document table keeps joins trivial.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kb_vec (rowid, embedding) VALUES (?, ?)`, docID, string(vector)); err != nil {
		return wrapKB(err, "add")
	}

	if err := tx.Commit(); err != nil {
		return wrapKB(err, "add")
	}
	return nil
}

// Search returns the k nearest documents to the query embedding.
func (kb *KnowledgeBase) Search(ctx context.Context, embedding []float32, k int) ([]SearchHit, error) {
	vector, err := json.Marshal(embedding)
	if err != nil {
		return nil, wrapKB(err, "search")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	rows, err := kb.db.QueryContext(ctx, `
		SELECT d.id, d.source_table, d.source_id, d.patient_key, d.subject, d.content, v.distance
		FROM kb_vec v
		JOIN kb_documents d ON d.id = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance`,
		string(vector), k)
	if err != nil {
		return nil, wrapKB(err, "search")
	}
	defer func() { _ = rows.Close() }()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		if err := rows.Scan(
			&hit.Document.ID, &hit.Document.SourceTable, &hit.Document.SourceID,
			&hit.Document.PatientKey, &hit.Document.Subject, &hit.Document.Content,
			&hit.Distance); err != nil {
			return nil, wrapKB(err, "search")
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// DocumentCount returns the number of indexed documents.
func (kb *KnowledgeBase) DocumentCount(ctx context.Context) (int64, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	var count int64
	err := kb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_documents`).Scan(&count)
	if err != nil {
		return 0, wrapKB(err, "count")
	}
	return count, nil
}

// Close releases the database handle.
func (kb *KnowledgeBase) Close() error {
	return kb.db.Close()
}

func wrapKB(err error, operation string) error {
	return errors.New(err).
		Component("enrich").
		Category(errors.CategoryEnrichment).
		Context("operation", operation).
		Build()
}
