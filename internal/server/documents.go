package server

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Kamyshanskii/pdf-engine/internal/liveness"
	"github.com/Kamyshanskii/pdf-engine/internal/queue/streams"
	"github.com/Kamyshanskii/pdf-engine/internal/runtime"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
	"github.com/Kamyshanskii/pdf-engine/internal/tex"
	"github.com/Kamyshanskii/pdf-engine/internal/version"
	"github.com/Kamyshanskii/pdf-engine/internal/worker"
)

// DocumentsHandler owns the document API surface: upload, dashboard, the
// editor lifecycle and exports.
type DocumentsHandler struct {
	Store       *store.Store
	Publisher   *streams.Publisher
	Versions    *version.Manager
	Reaper      *liveness.Reaper
	Stream      string
	OriginalDir string
	Logger      *log.Logger
}

func (h *DocumentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.upload)
	g.GET("", h.dashboard)
	g.GET("/:id", h.get)
	g.GET("/:id/status", h.status)
	g.POST("/:id/transform", h.transform)
	g.POST("/:id/normalize", h.normalize)
	g.POST("/:id/promote", h.promote)
	g.POST("/:id/discard", h.discard)
	g.POST("/:id/close", h.closeEditor)
	g.POST("/:id/dismiss-error", h.dismissError)
	g.POST("/:id/shares", h.addShare)
	g.DELETE("/:id/shares", h.removeShare)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/pdf", h.servePDF)
	g.GET("/:id/export", h.export)
}

func (h *DocumentsHandler) upload(c echo.Context) error {
	userID := c.Get("user_id").(string)
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return echo.NewHTTPError(http.StatusBadRequest, "only PDF uploads are supported")
	}

	ctx := c.Request().Context()
	id, err := h.Store.CreateDocument(ctx, userID, fh.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dst := filepath.Join(h.OriginalDir, fmt.Sprintf("%d.pdf", id))
	if err := saveUpload(fh, dst); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.SetOriginal(ctx, id, dst, fh.Size); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.enqueue(c, id, worker.EventIngest, worker.IngestPayload{DocID: id}); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *DocumentsHandler) dashboard(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()

	// Piggyback stale-session cleanup on dashboard loads so abandoned drafts
	// disappear even without the worker's periodic sweep.
	if h.Reaper != nil {
		if _, err := h.Reaper.Reap(ctx); err != nil {
			h.Logger.Printf("warn: reap stale sessions: %v", err)
		}
	}

	own, err := h.Store.ListDocumentsByOwner(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	shared, err := h.Store.ListSharedDocuments(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := DashboardResponse{Documents: summarize(own), Shared: summarize(shared)}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		hits, err := h.Store.SearchChunks(ctx, userID, q, 30)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		for _, hit := range hits {
			resp.Results = append(resp.Results, SearchResult(hit))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *DocumentsHandler) get(c echo.Context) error {
	userID, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	// Viewing the document counts as editor activity.
	if err := h.Store.Heartbeat(ctx, doc.ID); err != nil {
		h.Logger.Printf("warn: heartbeat for document %d: %v", doc.ID, err)
	}

	draft, hasDraft, err := h.Store.GetVersion(ctx, doc.ID, store.KindDraft)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	saved, hasSaved, err := h.Store.GetVersion(ctx, doc.ID, store.KindSaved)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	effective := version.EffectiveKind(c.QueryParam("kind"), doc.Status, hasDraft, hasSaved)
	resp := DocumentResponse{
		ID:            doc.ID,
		Filename:      doc.Filename,
		Status:        doc.Status,
		LastError:     doc.LastError,
		EffectiveKind: effective,
		HasDraft:      hasDraft,
		HasSaved:      hasSaved,
		Owned:         doc.OwnerID == userID,
	}
	switch effective {
	case store.KindDraft:
		if hasDraft {
			resp.TexSource = draft.TexSource
			resp.Text = draft.PlainText
		}
	case store.KindSaved:
		resp.TexSource = saved.TexSource
		resp.Text = saved.PlainText
	default:
		if doc.ExtractedText != nil {
			resp.Text = *doc.ExtractedText
		}
	}
	if resp.Owned {
		emails, err := h.Store.ListShareEmails(ctx, doc.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp.Shares = emails
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *DocumentsHandler) status(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	if err := h.Store.Heartbeat(ctx, doc.ID); err != nil {
		h.Logger.Printf("warn: heartbeat for document %d: %v", doc.ID, err)
	}

	_, hasDraft, err := h.Store.GetVersion(ctx, doc.ID, store.KindDraft)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_, hasSaved, err := h.Store.GetVersion(ctx, doc.ID, store.KindSaved)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	effective := version.EffectiveKind(c.QueryParam("kind"), doc.Status, hasDraft, hasSaved)
	return c.JSON(http.StatusOK, StatusResponse{
		Status:        doc.Status,
		LastError:     doc.LastError,
		EffectiveKind: effective,
		HasDraft:      hasDraft,
		HasSaved:      hasSaved,
		PDFReady:      fileExists(h.pdfPathFor(doc, effective)),
	})
}

func (h *DocumentsHandler) transform(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req TransformRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	payload := worker.TransformPayload{
		DocID:            doc.ID,
		BaseKind:         req.BaseKind,
		FixSpelling:      req.FixSpelling,
		ImproveStructure: req.ImproveStructure,
		TOC:              req.TOC,
		Extra:            req.Extra,
	}
	if err := h.enqueue(c, doc.ID, worker.EventTransform, payload); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DocumentsHandler) normalize(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	var req NormalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.enqueue(c, doc.ID, worker.EventNormalize, worker.NormalizePayload{DocID: doc.ID, TOC: req.TOC}); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *DocumentsHandler) promote(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if doc.Status != store.StatusReady {
		return echo.NewHTTPError(http.StatusConflict, "document is not ready")
	}
	draft, hasDraft, err := h.Store.GetVersion(ctx, doc.ID, store.KindDraft)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !hasDraft {
		return echo.NewHTTPError(http.StatusConflict, "no draft to promote")
	}
	if !fileExists(draft.PDFPath) {
		return echo.NewHTTPError(http.StatusConflict, "draft PDF is not compiled yet")
	}
	if err := h.Versions.Promote(ctx, doc.ID); err != nil {
		if merr := h.Store.MarkError(ctx, doc.ID, err.Error()); merr != nil {
			h.Logger.Printf("warn: mark error for document %d: %v", doc.ID, merr)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *DocumentsHandler) discard(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	if err := h.Versions.Discard(c.Request().Context(), doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *DocumentsHandler) closeEditor(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.Versions.Discard(ctx, doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.CloseEditor(ctx, doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// dismissError clears the error banner and restores the best status the
// document's artifacts still justify.
func (h *DocumentsHandler) dismissError(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	_, hasDraft, err := h.Store.GetVersion(ctx, doc.ID, store.KindDraft)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_, hasSaved, err := h.Store.GetVersion(ctx, doc.ID, store.KindSaved)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := store.StatusQueued
	if hasDraft || hasSaved || doc.ExtractedText != nil {
		status = store.StatusReady
	}
	if err := h.Store.DismissError(ctx, doc.ID, status); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *DocumentsHandler) addShare(c echo.Context) error {
	userID, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	if doc.OwnerID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "only the owner can share")
	}
	var req ShareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	targetID, _, err := h.Store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such user")
	}
	if targetID == userID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot share with yourself")
	}
	if err := h.Store.AddShare(ctx, doc.ID, targetID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (h *DocumentsHandler) removeShare(c echo.Context) error {
	userID, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	if doc.OwnerID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "only the owner can unshare")
	}
	var req ShareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	targetID, _, err := h.Store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such user")
	}
	if err := h.Store.RemoveShare(ctx, doc.ID, targetID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// delete removes the document for the owner; for a sharee it only revokes
// their own access.
func (h *DocumentsHandler) delete(c echo.Context) error {
	userID, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if doc.OwnerID != userID {
		if err := h.Store.RemoveShare(ctx, doc.ID, userID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
	if err := h.Store.DeleteDocument(ctx, doc.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, path := range []string{
		doc.OriginalPath,
		h.Versions.PDFPath(doc.ID, store.KindDraft),
		h.Versions.PDFPath(doc.ID, store.KindSaved),
	} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.Logger.Printf("warn: remove artifact %s: %v", path, err)
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *DocumentsHandler) servePDF(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	_, hasDraft, err := h.Store.GetVersion(ctx, doc.ID, store.KindDraft)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	_, hasSaved, err := h.Store.GetVersion(ctx, doc.ID, store.KindSaved)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	effective := version.EffectiveKind(c.QueryParam("kind"), doc.Status, hasDraft, hasSaved)
	// Degrade to whichever artifact actually exists on disk.
	for _, kind := range []string{effective, store.KindSaved, store.KindOriginal} {
		path := h.pdfPathFor(doc, kind)
		if fileExists(path) {
			return c.File(path)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "no PDF available")
}

func (h *DocumentsHandler) export(c echo.Context) error {
	_, doc, err := h.authorize(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = store.KindSaved
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "pdf"
	}

	base := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
	if kind == store.KindOriginal {
		switch format {
		case "pdf":
			if !fileExists(doc.OriginalPath) {
				return echo.NewHTTPError(http.StatusNotFound, "original PDF not found")
			}
			return c.Attachment(doc.OriginalPath, base+".pdf")
		case "txt":
			if doc.ExtractedText == nil {
				return echo.NewHTTPError(http.StatusNotFound, "original text is not extracted yet")
			}
			return serveText(c, base+".txt", *doc.ExtractedText)
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "original supports pdf and txt only")
		}
	}

	v, ok, err := h.Store.GetVersion(ctx, doc.ID, kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no %s rendition", kind))
	}
	switch format {
	case "pdf":
		if !fileExists(v.PDFPath) {
			return echo.NewHTTPError(http.StatusNotFound, "PDF is not compiled yet")
		}
		return c.Attachment(v.PDFPath, base+".pdf")
	case "tex":
		return serveText(c, base+".tex", v.TexSource)
	case "txt":
		return serveText(c, base+".txt", tex.ToPlainText(v.TexSource))
	case "md":
		return serveText(c, base+".md", tex.ToMarkdown(v.TexSource))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown format: "+format)
	}
}

// enqueue marks the document queued and publishes the job envelope.
func (h *DocumentsHandler) enqueue(c echo.Context, docID int64, eventType string, payload interface{}) error {
	ctx := c.Request().Context()
	if err := h.Store.SetQueued(ctx, docID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Publisher.PublishRaw(ctx, h.Stream, eventType, "v1", payload); err != nil {
		if merr := h.Store.MarkError(ctx, docID, fmt.Sprintf("enqueue %s: %v", eventType, err)); merr != nil {
			h.Logger.Printf("warn: mark error for document %d: %v", docID, merr)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return nil
}

// authorize parses the :id param and checks the caller may touch the document.
func (h *DocumentsHandler) authorize(c echo.Context) (string, store.Document, error) {
	userID := c.Get("user_id").(string)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return "", store.Document{}, echo.NewHTTPError(http.StatusBadRequest, "invalid document id")
	}
	ctx := c.Request().Context()
	ok, err := h.Store.HasAccess(ctx, id, userID)
	if err != nil {
		return "", store.Document{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return "", store.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	doc, found, err := h.Store.GetDocument(ctx, id)
	if err != nil {
		return "", store.Document{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return "", store.Document{}, echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return userID, doc, nil
}

func (h *DocumentsHandler) pdfPathFor(doc store.Document, kind string) string {
	if kind == store.KindOriginal {
		return doc.OriginalPath
	}
	return h.Versions.PDFPath(doc.ID, kind)
}

func summarize(docs []store.Document) []DocumentSummary {
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{
			ID:        d.ID,
			Filename:  d.Filename,
			Size:      d.Size,
			Status:    d.Status,
			LastError: d.LastError,
			UpdatedAt: d.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}

func serveText(c echo.Context, name, content string) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, "text/plain; charset=utf-8", []byte(content))
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
