package index

import (
	"context"
	"strings"
	"testing"
)

func TestChunkDeterminism(t *testing.T) {
	for _, length := range []int{0, 1, 999, 1000, 1001, 1500, 2000, 3500} {
		text := strings.Repeat("a", length)
		chunks := Chunk(text)

		wantCount := (length + ChunkSize - 1) / ChunkSize
		if len(chunks) != wantCount {
			t.Fatalf("len=%d: %d chunks, want %d", length, len(chunks), wantCount)
		}
		for i, c := range chunks {
			if i < len(chunks)-1 && len(c) != ChunkSize {
				t.Fatalf("len=%d: chunk %d has size %d, want %d", length, i, len(c), ChunkSize)
			}
		}
		if got := strings.Join(chunks, ""); got != text {
			t.Fatalf("len=%d: concatenation does not reproduce input", length)
		}
	}
}

func TestChunkTrimsAndSkipsEmpty(t *testing.T) {
	if got := Chunk("   \n\t  "); got != nil {
		t.Fatalf("blank input produced %d chunks", len(got))
	}
	chunks := Chunk("  Hello world.  ")
	if len(chunks) != 1 || chunks[0] != "Hello world." {
		t.Fatalf("Chunk = %q", chunks)
	}
}

func TestChunkCountsCharactersNotBytes(t *testing.T) {
	// 1500 multi-byte characters must still produce 1000 + 500.
	text := strings.Repeat("я", 1500)
	chunks := Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("%d chunks, want 2", len(chunks))
	}
	if n := len([]rune(chunks[0])); n != 1000 {
		t.Fatalf("first chunk has %d characters, want 1000", n)
	}
	if n := len([]rune(chunks[1])); n != 500 {
		t.Fatalf("second chunk has %d characters, want 500", n)
	}
}

type recordingChunkStore struct {
	docID  int64
	kind   string
	chunks []string
	calls  int
}

func (r *recordingChunkStore) ReplaceSearchChunks(_ context.Context, docID int64, kind string, chunks []string) error {
	r.docID, r.kind, r.chunks = docID, kind, chunks
	r.calls++
	return nil
}

func TestRebuild(t *testing.T) {
	st := &recordingChunkStore{}
	s := &Sync{Store: st}
	if err := s.Rebuild(context.Background(), 7, "draft", strings.Repeat("x", 1200)); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if st.calls != 1 || st.docID != 7 || st.kind != "draft" {
		t.Fatalf("store call = %+v", st)
	}
	if len(st.chunks) != 2 || len(st.chunks[0]) != 1000 || len(st.chunks[1]) != 200 {
		t.Fatalf("chunks = %d/%v", len(st.chunks), st.chunks)
	}
}
