// Package store persists documents, versions, shares, users and the derived
// search-chunk index in Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	DB *sql.DB
}

// Document statuses reflect the last attempted pipeline job.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Version kinds. Original is virtual: the document's own extracted text and
// artifact, never a version row.
const (
	KindOriginal = "original"
	KindDraft    = "draft"
	KindSaved    = "saved"
)

// maxErrorChars bounds the last_error text persisted on a document.
const maxErrorChars = 2000

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Document is one uploaded source document and its pipeline state.
type Document struct {
	ID                int64
	OwnerID           string
	Filename          string
	Size              int64
	OriginalPath      string
	ExtractedText     *string
	Status            string
	LastError         *string
	EditorOpen        bool
	EditorHeartbeatAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Version is a draft or saved rendition of a document.
type Version struct {
	ID        int64
	DocID     int64
	Kind      string
	TexSource string
	PDFPath   string
	PlainText string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchHit is one keyword match inside an indexed chunk.
type SearchHit struct {
	DocID    int64
	Kind     string
	Snippet  string
	Filename string
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	return id, hash, err
}

// ---- documents ----

const documentColumns = `id, owner_id, filename, size, original_path, extracted_text, status, last_error, editor_open, editor_heartbeat_at, created_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Size, &d.OriginalPath, &d.ExtractedText,
		&d.Status, &d.LastError, &d.EditorOpen, &d.EditorHeartbeatAt, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// CreateDocument inserts a queued document shell and returns its id. The
// original artifact path and size are filled in once the upload is written.
func (s *Store) CreateDocument(ctx context.Context, ownerID, filename string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO documents (owner_id, filename, size, original_path, status) VALUES ($1,$2,0,'','queued') RETURNING id`,
		ownerID, filename).Scan(&id)
	return id, err
}

func (s *Store) SetOriginal(ctx context.Context, id int64, path string, size int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET original_path = $2, size = $3, status = 'queued', updated_at = NOW() WHERE id = $1`,
		id, path, size)
	return err
}

// GetDocument fetches a document; the bool reports whether it exists.
func (s *Store) GetDocument(ctx context.Context, id int64) (Document, bool, error) {
	d, err := scanDocument(s.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	return d, true, nil
}

func (s *Store) listDocuments(ctx context.Context, query string, args ...interface{}) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
}

func (s *Store) ListSharedDocuments(ctx context.Context, userID string) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents d JOIN doc_shares sh ON sh.doc_id = d.id WHERE sh.user_id = $1 ORDER BY d.updated_at DESC`,
		userID)
}

// ListOpenEditorDocuments returns documents whose editor is marked open,
// for the liveness reaper.
func (s *Store) ListOpenEditorDocuments(ctx context.Context) ([]Document, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE editor_open = TRUE`)
}

// MarkProcessing flips a document into the processing state and clears any
// previous error; every job starts this way.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'processing', last_error = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *Store) MarkReady(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'ready', last_error = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// MarkError records a truncated failure message from the last attempted job.
func (s *Store) MarkError(ctx context.Context, id int64, msg string) error {
	if len(msg) > maxErrorChars {
		msg = msg[:maxErrorChars]
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'error', last_error = $2, updated_at = NOW() WHERE id = $1`, id, msg)
	return err
}

// SetQueued marks a document queued for a freshly enqueued job and opens the
// editor session that is waiting on the result.
func (s *Store) SetQueued(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'queued', last_error = NULL, editor_open = TRUE, editor_heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

// DismissError clears last_error and restores the given best-effort status.
func (s *Store) DismissError(ctx context.Context, id int64, status string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET last_error = NULL, status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (s *Store) SetExtractedText(ctx context.Context, id int64, text string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET extracted_text = $2, updated_at = NOW() WHERE id = $1`, id, text)
	return err
}

// Heartbeat refreshes the editing session timestamp; called on every viewer
// read of the document.
func (s *Store) Heartbeat(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET editor_open = TRUE, editor_heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *Store) CloseEditor(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET editor_open = FALSE, editor_heartbeat_at = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// DeleteDocument removes a document; versions, shares and search chunks
// cascade in the schema.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// ---- versions ----

const versionColumns = `id, doc_id, kind, tex_source, pdf_path, plain_text, created_at, updated_at`

// GetVersion fetches the single version row of the given kind, if present.
func (s *Store) GetVersion(ctx context.Context, docID int64, kind string) (Version, bool, error) {
	var v Version
	err := s.DB.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM versions WHERE doc_id = $1 AND kind = $2`, docID, kind).
		Scan(&v.ID, &v.DocID, &v.Kind, &v.TexSource, &v.PDFPath, &v.PlainText, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, err
	}
	return v, true, nil
}

// UpsertVersion fully replaces the content of the single (doc, kind) row,
// creating it when absent.
func (s *Store) UpsertVersion(ctx context.Context, docID int64, kind, texSource, pdfPath, plainText string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO versions (doc_id, kind, tex_source, pdf_path, plain_text, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (doc_id, kind) DO UPDATE SET
  tex_source = EXCLUDED.tex_source,
  pdf_path = EXCLUDED.pdf_path,
  plain_text = EXCLUDED.plain_text,
  updated_at = NOW();
`, docID, kind, texSource, pdfPath, plainText)
	return err
}

func (s *Store) DeleteVersion(ctx context.Context, docID int64, kind string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM versions WHERE doc_id = $1 AND kind = $2`, docID, kind)
	return err
}

// RelabelVersion changes the kind of an existing row in place, preserving its
// id and content. Used by promotion: the draft row becomes the saved row.
func (s *Store) RelabelVersion(ctx context.Context, docID int64, fromKind, toKind, pdfPath string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE versions SET kind = $3, pdf_path = $4, updated_at = NOW() WHERE doc_id = $1 AND kind = $2`,
		docID, fromKind, toKind, pdfPath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no %s version to relabel for document %d", fromKind, docID)
	}
	return nil
}

// ---- shares ----

func (s *Store) AddShare(ctx context.Context, docID int64, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO doc_shares (doc_id, user_id) VALUES ($1,$2) ON CONFLICT (doc_id, user_id) DO NOTHING`,
		docID, userID)
	return err
}

func (s *Store) RemoveShare(ctx context.Context, docID int64, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM doc_shares WHERE doc_id = $1 AND user_id = $2`, docID, userID)
	return err
}

func (s *Store) ListShareEmails(ctx context.Context, docID int64) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT u.email FROM users u JOIN doc_shares sh ON sh.user_id = u.id WHERE sh.doc_id = $1 ORDER BY u.email ASC`,
		docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// HasAccess reports whether the user owns the document or has a share on it.
func (s *Store) HasAccess(ctx context.Context, docID int64, userID string) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `
SELECT EXISTS (
  SELECT 1 FROM documents d
  LEFT JOIN doc_shares sh ON sh.doc_id = d.id AND sh.user_id = $2
  WHERE d.id = $1 AND (d.owner_id = $2 OR sh.user_id IS NOT NULL)
)`, docID, userID).Scan(&ok)
	return ok, err
}

// ---- search chunks ----

// ReplaceSearchChunks deletes all indexed chunks for (docID, kind) and
// inserts the new ones in sequence order, in one transaction.
func (s *Store) ReplaceSearchChunks(ctx context.Context, docID int64, kind string, chunks []string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_chunks WHERE doc_id = $1 AND kind = $2`, docID, kind); err != nil {
		return err
	}
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_chunks (doc_id, kind, seq, content) VALUES ($1,$2,$3,$4)`,
			docID, kind, i, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SearchChunks runs a keyword query over chunks of documents visible to the
// user (owned or shared), returning highlighted snippets.
func (s *Store) SearchChunks(ctx context.Context, userID, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.doc_id, c.kind, ts_headline('simple', c.content, plainto_tsquery('simple', $2),
         'StartSel=[, StopSel=], MaxWords=10, MinWords=5') AS snippet,
       d.filename
FROM search_chunks c
JOIN documents d ON d.id = c.doc_id
LEFT JOIN doc_shares sh ON sh.doc_id = d.id AND sh.user_id = $1
WHERE (d.owner_id = $1 OR sh.user_id IS NOT NULL)
  AND to_tsvector('simple', c.content) @@ plainto_tsquery('simple', $2)
ORDER BY c.doc_id, c.kind, c.seq
LIMIT $3`, userID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.DocID, &h.Kind, &h.Snippet, &h.Filename); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
