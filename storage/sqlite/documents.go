package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/poiesic/kbsearch/core"
	"github.com/poiesic/kbsearch/storage"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id             TEXT PRIMARY KEY,
		collection_id  TEXT NOT NULL,
		extracted_text TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL,
		chunk_count    INTEGER NOT NULL DEFAULT 0,
		error          TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL,
		updated_at     DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id, id)`,
}

type documentRow struct {
	ID            string    `db:"id"`
	CollectionID  string    `db:"collection_id"`
	ExtractedText string    `db:"extracted_text"`
	Status        string    `db:"status"`
	ChunkCount    int       `db:"chunk_count"`
	Error         string    `db:"error"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r documentRow) document() *core.Document {
	return &core.Document{
		ID:            r.ID,
		CollectionID:  r.CollectionID,
		ExtractedText: r.ExtractedText,
		Status:        core.DocumentStatus(r.Status),
		ChunkCount:    r.ChunkCount,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// DocumentRepository implements storage.DocumentRepository on SQLite.
type DocumentRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// OpenDocumentRepository connects to the SQLite database at dsn and ensures
// the schema exists. Use MemoryDSN for tests.
func OpenDocumentRepository(dsn string) (*DocumentRepository, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect document registry: %w", err)
	}
	// Each connection to :memory: is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	repo := &DocumentRepository{
		db:     db,
		logger: slog.Default().With("component", "document-registry"),
	}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *DocumentRepository) initSchema() error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("init document schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (r *DocumentRepository) Close() error {
	return r.db.Close()
}

// SaveDocument inserts or replaces a document, keeping the original creation time.
func (r *DocumentRepository) SaveDocument(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = core.DocumentStatusPending
	}

	row := documentRow{
		ID:            doc.ID,
		CollectionID:  doc.CollectionID,
		ExtractedText: doc.ExtractedText,
		Status:        string(doc.Status),
		ChunkCount:    doc.ChunkCount,
		Error:         doc.Error,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO documents (id, collection_id, extracted_text, status, chunk_count, error, created_at, updated_at)
		VALUES (:id, :collection_id, :extracted_text, :status, :chunk_count, :error, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			collection_id  = excluded.collection_id,
			extracted_text = excluded.extracted_text,
			status         = excluded.status,
			chunk_count    = excluded.chunk_count,
			error          = excluded.error,
			updated_at     = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var row documentRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return row.document(), nil
}

// ListDocuments returns the documents of a collection ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context, collectionID string) ([]*core.Document, error) {
	var rows []documentRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM documents WHERE collection_id = ? ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", collectionID, err)
	}

	docs := make([]*core.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.document()
	}
	return docs, nil
}

// UpdateStatus records a status transition.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status core.DocumentStatus, chunkCount int, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), chunkCount, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// DeleteDocument removes a document.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	r.logger.Debug("deleted document", "id", id)
	return nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	return nil
}
