package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Kamyshanskii/pdf-engine/internal/index"
	"github.com/Kamyshanskii/pdf-engine/internal/latex"
	"github.com/Kamyshanskii/pdf-engine/internal/liveness"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
	"github.com/Kamyshanskii/pdf-engine/internal/tex"
)

// runIngest extracts plain text from the uploaded PDF and indexes it.
func (p *Processor) runIngest(ctx context.Context, payload IngestPayload) error {
	doc, ok, err := p.store.GetDocument(ctx, payload.DocID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %d not found", payload.DocID)
	}
	if err := p.store.MarkProcessing(ctx, doc.ID); err != nil {
		return err
	}

	text, err := p.extract(doc.OriginalPath)
	if err != nil {
		return p.fail(ctx, doc.ID, fmt.Errorf("extract text: %w", err))
	}
	if err := p.store.SetExtractedText(ctx, doc.ID, text); err != nil {
		return p.fail(ctx, doc.ID, fmt.Errorf("persist extracted text: %w", err))
	}
	idx := index.Sync{Store: p.store}
	if err := idx.Rebuild(ctx, doc.ID, store.KindOriginal, text); err != nil {
		return p.fail(ctx, doc.ID, fmt.Errorf("index original text: %w", err))
	}
	return p.store.MarkReady(ctx, doc.ID)
}

// runTransform rewrites the document's text into LaTeX via the model, compiles
// it (with at most one repair round) and saves the result as the draft.
func (p *Processor) runTransform(ctx context.Context, payload TransformPayload) error {
	doc, ok, err := p.store.GetDocument(ctx, payload.DocID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %d not found", payload.DocID)
	}
	if err := p.store.MarkProcessing(ctx, doc.ID); err != nil {
		return err
	}

	base, isTex, err := p.baseText(ctx, doc, payload.BaseKind)
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}
	if strings.TrimSpace(base) == "" {
		return p.fail(ctx, doc.ID, fmt.Errorf("document %d has no text to rewrite", doc.ID))
	}

	content, model, err := p.rewriter.Rewrite(ctx, systemPrompt, buildUserPrompt(base, isTex, payload))
	if err != nil {
		return p.fail(ctx, doc.ID, fmt.Errorf("rewrite: %w", err))
	}
	p.logger.Printf("document %d rewritten by %s", doc.ID, model)

	full := tex.MakeFullDocument(tex.SanitizeBody(tex.ExtractBody(content)), payload.TOC)
	outPath := p.drafts.PDFPath(doc.ID, store.KindDraft)
	full, err = p.compileWithRepair(ctx, full, outPath, payload.TOC)
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}

	return p.persistDraft(ctx, doc.ID, full)
}

// runNormalize typesets the document's text deterministically, without a
// model pass and without compile repair.
func (p *Processor) runNormalize(ctx context.Context, payload NormalizePayload) error {
	doc, ok, err := p.store.GetDocument(ctx, payload.DocID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %d not found", payload.DocID)
	}
	if err := p.store.MarkProcessing(ctx, doc.ID); err != nil {
		return err
	}

	// Normalizing is cheap but pointless for an abandoned editor.
	if active, err := p.editorActive(ctx, doc.ID); err != nil {
		return p.fail(ctx, doc.ID, err)
	} else if !active {
		p.logger.Printf("editor for document %d is gone; skipping normalize", doc.ID)
		return p.store.MarkReady(ctx, doc.ID)
	}

	base, _, err := p.baseText(ctx, doc, "")
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}
	if strings.TrimSpace(base) == "" {
		return p.fail(ctx, doc.ID, fmt.Errorf("document %d has no text to normalize", doc.ID))
	}

	full := tex.MakeFullDocument(tex.NormalizeText(base), payload.TOC)
	outPath := p.drafts.PDFPath(doc.ID, store.KindDraft)
	if err := p.compiler.Compile(ctx, full, outPath, payload.TOC); err != nil {
		return p.fail(ctx, doc.ID, err)
	}

	return p.persistDraft(ctx, doc.ID, full)
}

// persistDraft writes the draft rendition unless the editor session died while
// the job was running, in which case the result is dropped on the floor.
func (p *Processor) persistDraft(ctx context.Context, docID int64, texSource string) error {
	active, err := p.editorActive(ctx, docID)
	if err != nil {
		return p.fail(ctx, docID, err)
	}
	if !active {
		p.logger.Printf("editor for document %d went away; dropping draft", docID)
		return p.store.MarkReady(ctx, docID)
	}
	if err := p.drafts.SaveDraft(ctx, docID, texSource, tex.ToPlainText(texSource)); err != nil {
		return p.fail(ctx, docID, fmt.Errorf("save draft: %w", err))
	}
	return p.store.MarkReady(ctx, docID)
}

// compileWithRepair compiles the source and, on diagnostic failure, asks the
// model for one corrected version before giving up. The returned source is
// whichever variant produced the artifact.
func (p *Processor) compileWithRepair(ctx context.Context, source, outPath string, toc bool) (string, error) {
	err := p.compiler.Compile(ctx, source, outPath, toc)
	if err == nil {
		return source, nil
	}
	var cerr *latex.CompileError
	if !errors.As(err, &cerr) {
		return source, err
	}

	p.logger.Printf("compile failed, attempting one repair round")
	content, model, rerr := p.rewriter.Rewrite(ctx, repairSystemPrompt, buildRepairPrompt(source, cerr.Output))
	if rerr != nil {
		return source, fmt.Errorf("repair rewrite: %w", rerr)
	}
	p.logger.Printf("repair produced by %s", model)

	repaired := tex.MakeFullDocument(tex.SanitizeBody(tex.ExtractBody(content)), toc)
	if err := p.compiler.Compile(ctx, repaired, outPath, toc); err != nil {
		return repaired, err
	}
	return repaired, nil
}

// baseText resolves the payload a job should start from: the named rendition's
// LaTeX source when it exists, falling back to the original extraction. The
// second return reports whether the payload is LaTeX rather than plain text.
// An empty extraction is retried against the uploaded PDF and persisted.
func (p *Processor) baseText(ctx context.Context, doc store.Document, kind string) (string, bool, error) {
	if kind == store.KindDraft || kind == store.KindSaved {
		v, ok, err := p.store.GetVersion(ctx, doc.ID, kind)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v.TexSource, true, nil
		}
	}
	if doc.ExtractedText != nil && strings.TrimSpace(*doc.ExtractedText) != "" {
		return *doc.ExtractedText, false, nil
	}
	text, err := p.extract(doc.OriginalPath)
	if err != nil {
		return "", false, fmt.Errorf("re-extract text: %w", err)
	}
	if err := p.store.SetExtractedText(ctx, doc.ID, text); err != nil {
		return "", false, fmt.Errorf("persist extracted text: %w", err)
	}
	return text, false, nil
}

func (p *Processor) editorActive(ctx context.Context, docID int64) (bool, error) {
	doc, ok, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return liveness.IsActive(doc.EditorOpen, doc.EditorHeartbeatAt, p.now()), nil
}

// fail records the job error on the document and propagates it.
func (p *Processor) fail(ctx context.Context, docID int64, err error) error {
	if merr := p.store.MarkError(ctx, docID, err.Error()); merr != nil {
		p.logger.Printf("warn: mark error for document %d: %v", docID, merr)
	}
	return err
}
