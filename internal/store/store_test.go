package store

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestUpsertVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`
INSERT INTO versions (doc_id, kind, tex_source, pdf_path, plain_text, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (doc_id, kind) DO UPDATE SET
  tex_source = EXCLUDED.tex_source,
  pdf_path = EXCLUDED.pdf_path,
  plain_text = EXCLUDED.plain_text,
  updated_at = NOW();
`)
	mock.ExpectExec(query).
		WithArgs(int64(7), KindDraft, "\\section{A}", "/gen/doc_7_draft.pdf", "A").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.UpsertVersion(context.Background(), 7, KindDraft, "\\section{A}", "/gen/doc_7_draft.pdf", "A"); err != nil {
		t.Fatalf("UpsertVersion: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRelabelVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	query := regexp.QuoteMeta(`UPDATE versions SET kind = $3, pdf_path = $4, updated_at = NOW() WHERE doc_id = $1 AND kind = $2`)
	mock.ExpectExec(query).
		WithArgs(int64(3), KindDraft, KindSaved, "/gen/doc_3_saved.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.RelabelVersion(context.Background(), 3, KindDraft, KindSaved, "/gen/doc_3_saved.pdf"); err != nil {
		t.Fatalf("RelabelVersion: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRelabelVersionMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectExec(`UPDATE versions SET kind =`).
		WithArgs(int64(9), KindDraft, KindSaved, "/gen/doc_9_saved.pdf").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.RelabelVersion(context.Background(), 9, KindDraft, KindSaved, "/gen/doc_9_saved.pdf")
	if err == nil {
		t.Fatalf("expected error when no row matches")
	}
	if !strings.Contains(err.Error(), "no draft version") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReplaceSearchChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM search_chunks WHERE doc_id = $1 AND kind = $2`)).
		WithArgs(int64(5), KindDraft).
		WillReturnResult(sqlmock.NewResult(0, 2))
	insert := regexp.QuoteMeta(`INSERT INTO search_chunks (doc_id, kind, seq, content) VALUES ($1,$2,$3,$4)`)
	mock.ExpectExec(insert).
		WithArgs(int64(5), KindDraft, 0, "first chunk").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs(int64(5), KindDraft, 1, "second chunk").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.ReplaceSearchChunks(context.Background(), 5, KindDraft, []string{"first chunk", "second chunk"}); err != nil {
		t.Fatalf("ReplaceSearchChunks: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceSearchChunksEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM search_chunks`).
		WithArgs(int64(5), KindSaved).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := st.ReplaceSearchChunks(context.Background(), 5, KindSaved, nil); err != nil {
		t.Fatalf("ReplaceSearchChunks: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkErrorTruncates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	long := strings.Repeat("x", maxErrorChars+500)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE documents SET status = 'error', last_error = $2, updated_at = NOW() WHERE id = $1`)).
		WithArgs(int64(4), strings.Repeat("x", maxErrorChars)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.MarkError(context.Background(), 4, long); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery(`SELECT id, owner_id, filename`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := st.GetDocument(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestGetVersionFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()

	mock.ExpectQuery(`SELECT id, doc_id, kind, tex_source`).
		WithArgs(int64(2), KindSaved).
		WillReturnRows(sqlmock.NewRows([]string{"id", "doc_id", "kind", "tex_source", "pdf_path", "plain_text", "created_at", "updated_at"}).
			AddRow(int64(11), int64(2), KindSaved, "\\section{S}", "/gen/doc_2_saved.pdf", "S", now, now))

	v, ok, err := st.GetVersion(context.Background(), 2, KindSaved)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if !ok {
		t.Fatalf("expected version")
	}
	if v.ID != 11 || v.Kind != KindSaved || v.PDFPath != "/gen/doc_2_saved.pdf" {
		t.Fatalf("unexpected version: %#v", v)
	}
}

func TestSearchChunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery(`SELECT c.doc_id, c.kind, ts_headline`).
		WithArgs("user-1", "graph theory", 30).
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "kind", "snippet", "filename"}).
			AddRow(int64(1), KindOriginal, "[graph] theory introduction", "notes.pdf").
			AddRow(int64(1), KindSaved, "applied [graph] theory", "notes.pdf"))

	hits, err := st.SearchChunks(context.Background(), "user-1", "graph theory", 0)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Kind != KindOriginal || hits[0].Filename != "notes.pdf" {
		t.Fatalf("unexpected hit: %#v", hits[0])
	}
	if !strings.Contains(hits[1].Snippet, "[graph]") {
		t.Fatalf("expected highlighted snippet, got %q", hits[1].Snippet)
	}
}

func TestHasAccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(6), "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := st.HasAccess(context.Background(), 6, "user-2")
	if err != nil {
		t.Fatalf("HasAccess: %v", err)
	}
	if !ok {
		t.Fatalf("expected access")
	}
}
