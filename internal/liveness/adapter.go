package liveness

import (
	"context"

	"github.com/Kamyshanskii/pdf-engine/internal/store"
)

// StoreSessions adapts the Postgres store to the reaper's session view.
type StoreSessions struct {
	Store *store.Store
}

func (a StoreSessions) ListOpenEditorSessions(ctx context.Context) ([]Session, error) {
	docs, err := a.Store.ListOpenEditorDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(docs))
	for _, d := range docs {
		out = append(out, Session{DocID: d.ID, Open: d.EditorOpen, HeartbeatAt: d.EditorHeartbeatAt})
	}
	return out, nil
}

func (a StoreSessions) CloseSession(ctx context.Context, docID int64) error {
	return a.Store.CloseEditor(ctx, docID)
}
