package liveness

import (
	"context"
	"log"
	"os"
	"testing"
	"time"
)

func TestIsActiveBoundaries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(age time.Duration) *time.Time {
		ts := now.Add(-age)
		return &ts
	}

	cases := []struct {
		name string
		open bool
		hb   *time.Time
		want bool
	}{
		{"fresh heartbeat", true, at(5 * time.Second), true},
		{"just under threshold", true, at(119 * time.Second), true},
		{"exactly threshold", true, at(120 * time.Second), false},
		{"past threshold", true, at(121 * time.Second), false},
		{"closed session", false, at(5 * time.Second), false},
		{"no heartbeat", true, nil, false},
	}
	for _, tc := range cases {
		if got := IsActive(tc.open, tc.hb, now); got != tc.want {
			t.Fatalf("%s: IsActive = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type fakeSessions struct {
	sessions []Session
	closed   []int64
}

func (f *fakeSessions) ListOpenEditorSessions(ctx context.Context) ([]Session, error) {
	return f.sessions, nil
}

func (f *fakeSessions) CloseSession(ctx context.Context, docID int64) error {
	f.closed = append(f.closed, docID)
	return nil
}

type fakeDiscarder struct {
	discarded []int64
}

func (f *fakeDiscarder) Discard(ctx context.Context, docID int64) error {
	f.discarded = append(f.discarded, docID)
	return nil
}

func TestReapClosesOnlyStaleSessions(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-30 * time.Second)
	stale := now.Add(-200 * time.Second)

	sessions := &fakeSessions{sessions: []Session{
		{DocID: 1, Open: true, HeartbeatAt: &fresh},
		{DocID: 2, Open: true, HeartbeatAt: &stale},
		{DocID: 3, Open: true, HeartbeatAt: nil},
	}}
	disc := &fakeDiscarder{}
	r := NewReaper(sessions, disc, log.New(os.Stderr, "", 0))
	r.Now = func() time.Time { return now }

	n, err := r.Reap(context.Background())
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if n != 2 {
		t.Fatalf("reaped %d sessions, want 2", n)
	}
	if len(sessions.closed) != 2 || sessions.closed[0] != 2 || sessions.closed[1] != 3 {
		t.Fatalf("closed %v, want [2 3]", sessions.closed)
	}
	if len(disc.discarded) != 2 {
		t.Fatalf("discarded %v, want drafts of docs 2 and 3", disc.discarded)
	}
}
