// Package version manages the draft/saved rendition lifecycle of a document.
//
// A document has at most one draft and one saved rendition. The original
// upload is not a rendition row: it is the document's own extracted text and
// PDF. Promotion relabels the draft row in place so the saved rendition keeps
// its identity, and discarding a draft is always safe to repeat.
package version

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Kamyshanskii/pdf-engine/internal/index"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
)

// Store is the subset of persistence the manager needs.
type Store interface {
	GetVersion(ctx context.Context, docID int64, kind string) (store.Version, bool, error)
	UpsertVersion(ctx context.Context, docID int64, kind, texSource, pdfPath, plainText string) error
	DeleteVersion(ctx context.Context, docID int64, kind string) error
	RelabelVersion(ctx context.Context, docID int64, fromKind, toKind, pdfPath string) error
	ReplaceSearchChunks(ctx context.Context, docID int64, kind string, chunks []string) error
}

// Manager owns rendition rows, their PDF artifacts under GeneratedDir and the
// derived search chunks.
type Manager struct {
	Store        Store
	GeneratedDir string
	Logger       *log.Logger
	idx          index.Sync
}

func NewManager(st Store, generatedDir string, logger *log.Logger) *Manager {
	return &Manager{Store: st, GeneratedDir: generatedDir, Logger: logger, idx: index.Sync{Store: st}}
}

// PDFPath returns the artifact path for a rendition of the document.
func (m *Manager) PDFPath(docID int64, kind string) string {
	return filepath.Join(m.GeneratedDir, fmt.Sprintf("doc_%d_%s.pdf", docID, kind))
}

// SaveDraft replaces the draft rendition row and reindexes its text. The PDF
// artifact is expected to already sit at PDFPath(docID, draft).
func (m *Manager) SaveDraft(ctx context.Context, docID int64, texSource, plainText string) error {
	if err := m.Store.UpsertVersion(ctx, docID, store.KindDraft, texSource, m.PDFPath(docID, store.KindDraft), plainText); err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	if err := m.idx.Rebuild(ctx, docID, store.KindDraft, plainText); err != nil {
		return fmt.Errorf("index draft: %w", err)
	}
	return nil
}

// Promote turns the current draft into the saved rendition. The draft row is
// relabelled in place; any previous saved rendition and its artifact are
// evicted first. Artifact copies and removals are best effort: a missing or
// uncopyable PDF never blocks promotion of the text.
func (m *Manager) Promote(ctx context.Context, docID int64) error {
	draft, ok, err := m.Store.GetVersion(ctx, docID, store.KindDraft)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %d has no draft to promote", docID)
	}

	if err := m.Store.DeleteVersion(ctx, docID, store.KindSaved); err != nil {
		return fmt.Errorf("evict saved rendition: %w", err)
	}
	savedPath := m.PDFPath(docID, store.KindSaved)
	if err := os.Remove(savedPath); err != nil && !os.IsNotExist(err) && m.Logger != nil {
		m.Logger.Printf("remove old saved pdf for document %d: %v", docID, err)
	}

	if err := copyFile(draft.PDFPath, savedPath); err != nil && m.Logger != nil {
		m.Logger.Printf("copy draft pdf for document %d: %v", docID, err)
	}

	if err := m.Store.RelabelVersion(ctx, docID, store.KindDraft, store.KindSaved, savedPath); err != nil {
		return err
	}

	if err := os.Remove(draft.PDFPath); err != nil && !os.IsNotExist(err) && m.Logger != nil {
		m.Logger.Printf("remove draft pdf for document %d: %v", docID, err)
	}

	if err := m.idx.Rebuild(ctx, docID, store.KindSaved, draft.PlainText); err != nil {
		return fmt.Errorf("index saved rendition: %w", err)
	}
	if err := m.idx.Rebuild(ctx, docID, store.KindDraft, ""); err != nil {
		return fmt.Errorf("clear draft index: %w", err)
	}
	return nil
}

// Discard drops the draft rendition, its artifact and its search chunks.
// Calling it when no draft exists is not an error.
func (m *Manager) Discard(ctx context.Context, docID int64) error {
	draft, ok, err := m.Store.GetVersion(ctx, docID, store.KindDraft)
	if err != nil {
		return err
	}
	if ok {
		if err := m.Store.DeleteVersion(ctx, docID, store.KindDraft); err != nil {
			return err
		}
		if err := os.Remove(draft.PDFPath); err != nil && !os.IsNotExist(err) && m.Logger != nil {
			m.Logger.Printf("remove draft pdf for document %d: %v", docID, err)
		}
	}
	return m.idx.Rebuild(ctx, docID, store.KindDraft, "")
}

// EffectiveKind resolves which rendition a viewer should see. An explicitly
// requested rendition wins when it exists; otherwise the view degrades from
// draft (shown while a job is in flight) through saved to the original.
func EffectiveKind(requested, status string, hasDraft, hasSaved bool) string {
	switch requested {
	case store.KindOriginal:
		return store.KindOriginal
	case store.KindDraft:
		if hasDraft {
			return store.KindDraft
		}
	case store.KindSaved:
		if hasSaved {
			return store.KindSaved
		}
	}
	if hasDraft || status == store.StatusQueued || status == store.StatusProcessing {
		return store.KindDraft
	}
	if hasSaved {
		return store.KindSaved
	}
	return store.KindOriginal
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
