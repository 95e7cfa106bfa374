package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Kamyshanskii/pdf-engine/internal/latex"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
)

type fakeStore struct {
	doc       store.Document
	versions  map[string]store.Version
	chunks    map[string][]string
	extracted string
	statuses  []string
	lastError string
}

func newFakeStore(doc store.Document) *fakeStore {
	return &fakeStore{doc: doc, versions: map[string]store.Version{}, chunks: map[string][]string{}}
}

func (f *fakeStore) GetDocument(ctx context.Context, id int64) (store.Document, bool, error) {
	return f.doc, true, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, id int64) error {
	f.statuses = append(f.statuses, store.StatusProcessing)
	return nil
}

func (f *fakeStore) MarkReady(ctx context.Context, id int64) error {
	f.statuses = append(f.statuses, store.StatusReady)
	return nil
}

func (f *fakeStore) MarkError(ctx context.Context, id int64, msg string) error {
	f.statuses = append(f.statuses, store.StatusError)
	f.lastError = msg
	return nil
}

func (f *fakeStore) SetExtractedText(ctx context.Context, id int64, text string) error {
	f.extracted = text
	return nil
}

func (f *fakeStore) GetVersion(ctx context.Context, docID int64, kind string) (store.Version, bool, error) {
	v, ok := f.versions[kind]
	return v, ok, nil
}

func (f *fakeStore) ReplaceSearchChunks(ctx context.Context, docID int64, kind string, chunks []string) error {
	f.chunks[kind] = chunks
	return nil
}

type fakeRewriter struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeRewriter) Rewrite(ctx context.Context, system, user string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, "test-model", nil
}

type fakeCompiler struct {
	calls    int
	failures int
	err      error
}

func (f *fakeCompiler) Compile(ctx context.Context, source, outPath string, toc bool) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return f.err
		}
		return &latex.CompileError{Output: "! Undefined control sequence."}
	}
	return nil
}

type fakeDrafts struct {
	savedTex   string
	savedPlain string
	saves      int
}

func (f *fakeDrafts) PDFPath(docID int64, kind string) string {
	return fmt.Sprintf("/tmp/doc_%d_%s.pdf", docID, kind)
}

func (f *fakeDrafts) SaveDraft(ctx context.Context, docID int64, texSource, plainText string) error {
	f.saves++
	f.savedTex = texSource
	f.savedPlain = plainText
	return nil
}

func activeDoc(id int64) store.Document {
	hb := time.Now()
	text := "Hello world."
	return store.Document{ID: id, OriginalPath: "/orig/1.pdf", ExtractedText: &text, EditorOpen: true, EditorHeartbeatAt: &hb}
}

func newTestProcessor(fs *fakeStore, rw *fakeRewriter, fc *fakeCompiler, fd *fakeDrafts, extract Extractor) *Processor {
	logger := log.New(os.Stderr, "[WORKER] ", log.LstdFlags)
	return &Processor{
		logger:   logger,
		store:    fs,
		rewriter: rw,
		compiler: fc,
		drafts:   fd,
		extract:  extract,
		now:      time.Now,
	}
}

func TestRunIngest(t *testing.T) {
	fs := newFakeStore(activeDoc(1))
	p := newTestProcessor(fs, nil, nil, nil, func(path string) (string, error) {
		if path != "/orig/1.pdf" {
			t.Fatalf("unexpected extract path %q", path)
		}
		return "Hello world.", nil
	})

	if err := p.runIngest(context.Background(), IngestPayload{DocID: 1}); err != nil {
		t.Fatalf("runIngest: %v", err)
	}
	if fs.extracted != "Hello world." {
		t.Fatalf("extracted text not persisted: %q", fs.extracted)
	}
	if got := fs.chunks[store.KindOriginal]; len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("unexpected original chunks: %v", got)
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusReady {
		t.Fatalf("final status %v, want ready", fs.statuses)
	}
}

func TestRunIngestExtractFailureMarksError(t *testing.T) {
	fs := newFakeStore(activeDoc(1))
	p := newTestProcessor(fs, nil, nil, nil, func(path string) (string, error) {
		return "", fmt.Errorf("broken xref table")
	})

	if err := p.runIngest(context.Background(), IngestPayload{DocID: 1}); err == nil {
		t.Fatalf("expected error")
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusError {
		t.Fatalf("final status %v, want error", fs.statuses)
	}
	if !strings.Contains(fs.lastError, "broken xref table") {
		t.Fatalf("unexpected last error %q", fs.lastError)
	}
}

func TestRunTransformSavesDraft(t *testing.T) {
	fs := newFakeStore(activeDoc(2))
	rw := &fakeRewriter{responses: []string{"\\section{Hello}\n\nHello world."}}
	fc := &fakeCompiler{}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, rw, fc, fd, nil)

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 2, FixSpelling: true}); err != nil {
		t.Fatalf("runTransform: %v", err)
	}
	if fd.saves != 1 {
		t.Fatalf("saves = %d, want 1", fd.saves)
	}
	if !strings.Contains(fd.savedTex, "\\section{Hello}") {
		t.Fatalf("draft source missing body: %q", fd.savedTex)
	}
	if !strings.Contains(fd.savedTex, "\\begin{document}") {
		t.Fatalf("draft source should be a full document: %q", fd.savedTex)
	}
	if !strings.Contains(fd.savedPlain, "Hello world.") {
		t.Fatalf("draft plain text missing content: %q", fd.savedPlain)
	}
	if fc.calls != 1 {
		t.Fatalf("compiler calls = %d, want 1", fc.calls)
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusReady {
		t.Fatalf("final status %v, want ready", fs.statuses)
	}
}

func TestRunTransformStaleEditorDropsDraft(t *testing.T) {
	doc := activeDoc(3)
	stale := time.Now().Add(-200 * time.Second)
	doc.EditorHeartbeatAt = &stale
	fs := newFakeStore(doc)
	rw := &fakeRewriter{responses: []string{"\\section{A}"}}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, rw, &fakeCompiler{}, fd, nil)

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 3}); err != nil {
		t.Fatalf("runTransform: %v", err)
	}
	if fd.saves != 0 {
		t.Fatalf("draft saved despite stale editor")
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusReady {
		t.Fatalf("final status %v, want ready", fs.statuses)
	}
}

func TestRunTransformRepairsOnce(t *testing.T) {
	fs := newFakeStore(activeDoc(4))
	rw := &fakeRewriter{responses: []string{"\\section{A}\n\\badmacro", "\\section{A}\nfixed"}}
	fc := &fakeCompiler{failures: 1}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, rw, fc, fd, nil)

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 4}); err != nil {
		t.Fatalf("runTransform with repair: %v", err)
	}
	if fc.calls != 2 {
		t.Fatalf("compiler calls = %d, want 2", fc.calls)
	}
	if rw.calls != 2 {
		t.Fatalf("rewriter calls = %d, want rewrite plus one repair", rw.calls)
	}
	if !strings.Contains(fd.savedTex, "fixed") {
		t.Fatalf("draft should carry the repaired source: %q", fd.savedTex)
	}
}

func TestRunTransformRepairBounded(t *testing.T) {
	fs := newFakeStore(activeDoc(5))
	rw := &fakeRewriter{responses: []string{"\\section{A}"}}
	fc := &fakeCompiler{failures: 2}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, rw, fc, fd, nil)

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 5}); err == nil {
		t.Fatalf("expected error when repair also fails")
	}
	if fc.calls != 2 {
		t.Fatalf("compiler calls = %d, want exactly 2", fc.calls)
	}
	if fd.saves != 0 {
		t.Fatalf("no draft should be saved on failure")
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusError {
		t.Fatalf("final status %v, want error", fs.statuses)
	}
}

func TestRunTransformUsesRenditionTexSource(t *testing.T) {
	fs := newFakeStore(activeDoc(6))
	fs.versions[store.KindSaved] = store.Version{
		DocID:     6,
		Kind:      store.KindSaved,
		TexSource: "\\section{Title}\n\n\\href{http://example.com}{a link} \\textbf{bold}",
		PlainText: "Title\n\na link bold",
	}
	var prompt string
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, &fakeCompiler{}, fd, nil)
	p.rewriter = rewriterFunc(func(ctx context.Context, system, user string) (string, string, error) {
		prompt = user
		return "\\section{A}", "m", nil
	})

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 6, BaseKind: store.KindSaved}); err != nil {
		t.Fatalf("runTransform: %v", err)
	}
	if !strings.Contains(prompt, "\\href{http://example.com}{a link}") || !strings.Contains(prompt, "\\textbf{bold}") {
		t.Fatalf("prompt should carry the rendition's LaTeX commands, got %q", prompt)
	}
	if !strings.Contains(prompt, "Input (LaTeX)") {
		t.Fatalf("prompt should mark the input as LaTeX, got %q", prompt)
	}
	if strings.Contains(prompt, "Title\n\na link bold") {
		t.Fatalf("prompt should not fall back to the flattened text, got %q", prompt)
	}
}

func TestRunTransformMissingRenditionFallsBackToPlainText(t *testing.T) {
	fs := newFakeStore(activeDoc(6))
	var prompt string
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, &fakeCompiler{}, fd, nil)
	p.rewriter = rewriterFunc(func(ctx context.Context, system, user string) (string, string, error) {
		prompt = user
		return "\\section{A}", "m", nil
	})

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 6, BaseKind: store.KindDraft}); err != nil {
		t.Fatalf("runTransform: %v", err)
	}
	if !strings.Contains(prompt, "Hello world.") {
		t.Fatalf("prompt should carry the extracted text, got %q", prompt)
	}
	if !strings.Contains(prompt, "Input (text)") {
		t.Fatalf("prompt should mark the input as plain text, got %q", prompt)
	}
}

func TestRunTransformReExtractsWhenTextMissing(t *testing.T) {
	doc := activeDoc(10)
	doc.ExtractedText = nil
	fs := newFakeStore(doc)
	var prompt string
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, &fakeCompiler{}, fd, func(path string) (string, error) {
		if path != "/orig/1.pdf" {
			t.Fatalf("unexpected extract path %q", path)
		}
		return "Recovered text.", nil
	})
	p.rewriter = rewriterFunc(func(ctx context.Context, system, user string) (string, string, error) {
		prompt = user
		return "\\section{A}", "m", nil
	})

	if err := p.runTransform(context.Background(), TransformPayload{DocID: 10}); err != nil {
		t.Fatalf("runTransform: %v", err)
	}
	if !strings.Contains(prompt, "Recovered text.") {
		t.Fatalf("prompt should carry the re-extracted text, got %q", prompt)
	}
	if fs.extracted != "Recovered text." {
		t.Fatalf("re-extracted text not persisted: %q", fs.extracted)
	}
}

type rewriterFunc func(ctx context.Context, system, user string) (string, string, error)

func (f rewriterFunc) Rewrite(ctx context.Context, system, user string) (string, string, error) {
	return f(ctx, system, user)
}

func TestRunNormalize(t *testing.T) {
	doc := activeDoc(7)
	text := "First line\nthat wraps.\n\n- one\n- two"
	doc.ExtractedText = &text
	fs := newFakeStore(doc)
	fc := &fakeCompiler{}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, fc, fd, nil)

	if err := p.runNormalize(context.Background(), NormalizePayload{DocID: 7, TOC: true}); err != nil {
		t.Fatalf("runNormalize: %v", err)
	}
	if fd.saves != 1 {
		t.Fatalf("saves = %d, want 1", fd.saves)
	}
	if !strings.Contains(fd.savedTex, "\\begin{itemize}") {
		t.Fatalf("normalized source should carry a list: %q", fd.savedTex)
	}
	if !strings.Contains(fd.savedTex, "\\tableofcontents") {
		t.Fatalf("toc requested but missing: %q", fd.savedTex)
	}
	if fc.calls != 1 {
		t.Fatalf("compiler calls = %d, want 1 (no repair for normalize)", fc.calls)
	}
}

func TestRunNormalizeSkipsWhenEditorGone(t *testing.T) {
	doc := activeDoc(8)
	doc.EditorOpen = false
	fs := newFakeStore(doc)
	fc := &fakeCompiler{}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, fc, fd, nil)

	if err := p.runNormalize(context.Background(), NormalizePayload{DocID: 8}); err != nil {
		t.Fatalf("runNormalize: %v", err)
	}
	if fc.calls != 0 {
		t.Fatalf("compiler should not run for an abandoned editor")
	}
	if fd.saves != 0 {
		t.Fatalf("no draft should be saved")
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusReady {
		t.Fatalf("final status %v, want ready", fs.statuses)
	}
}

func TestRunNormalizeCompileFailureMarksError(t *testing.T) {
	fs := newFakeStore(activeDoc(9))
	fc := &fakeCompiler{failures: 1}
	fd := &fakeDrafts{}
	p := newTestProcessor(fs, nil, fc, fd, nil)

	if err := p.runNormalize(context.Background(), NormalizePayload{DocID: 9}); err == nil {
		t.Fatalf("expected compile error")
	}
	if fc.calls != 1 {
		t.Fatalf("compiler calls = %d, want 1", fc.calls)
	}
	if fs.statuses[len(fs.statuses)-1] != store.StatusError {
		t.Fatalf("final status %v, want error", fs.statuses)
	}
}
