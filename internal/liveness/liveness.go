// Package liveness decides whether an editor session is still active and
// reaps abandoned ones.
package liveness

import (
	"context"
	"log"
	"time"
)

// Threshold is the maximum heartbeat age for a session to count as active.
const Threshold = 120 * time.Second

// IsActive reports whether an editor session with the given open flag and
// last heartbeat is still live at now. A heartbeat exactly Threshold old is
// already stale.
func IsActive(open bool, heartbeatAt *time.Time, now time.Time) bool {
	if !open || heartbeatAt == nil {
		return false
	}
	return now.Sub(*heartbeatAt) < Threshold
}

// SessionStore is the subset of store operations the reaper needs.
type SessionStore interface {
	ListOpenEditorSessions(ctx context.Context) ([]Session, error)
	CloseSession(ctx context.Context, docID int64) error
}

// Session is one open editor session as seen by the reaper.
type Session struct {
	DocID       int64
	Open        bool
	HeartbeatAt *time.Time
}

// Discarder throws away unsaved draft state for a document.
type Discarder interface {
	Discard(ctx context.Context, docID int64) error
}

// Reaper closes editor sessions whose heartbeat went stale and discards their
// unsaved drafts.
type Reaper struct {
	Store     SessionStore
	Discarder Discarder
	Logger    *log.Logger
	Now       func() time.Time
}

func NewReaper(store SessionStore, discarder Discarder, logger *log.Logger) *Reaper {
	return &Reaper{Store: store, Discarder: discarder, Logger: logger, Now: time.Now}
}

// Reap scans open sessions once and closes the stale ones. It returns the
// number of sessions reaped; per-document failures are logged and skipped.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	sessions, err := r.Store.ListOpenEditorSessions(ctx)
	if err != nil {
		return 0, err
	}
	now := r.Now()
	reaped := 0
	for _, s := range sessions {
		if IsActive(s.Open, s.HeartbeatAt, now) {
			continue
		}
		if r.Discarder != nil {
			if err := r.Discarder.Discard(ctx, s.DocID); err != nil {
				if r.Logger != nil {
					r.Logger.Printf("discard draft for document %d: %v", s.DocID, err)
				}
				continue
			}
		}
		if err := r.Store.CloseSession(ctx, s.DocID); err != nil {
			if r.Logger != nil {
				r.Logger.Printf("close session for document %d: %v", s.DocID, err)
			}
			continue
		}
		reaped++
	}
	return reaped, nil
}
