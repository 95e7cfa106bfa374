// Package index keeps the per-document, per-kind chunked full-text index in
// step with version content. The index is a derived, disposable projection;
// it is always rebuilt wholesale, never patched.
package index

import (
	"context"
	"fmt"
	"strings"
)

// ChunkSize is the fixed window, in characters, of one index entry.
const ChunkSize = 1000

// ChunkStore persists index entries for a (document, kind) pair.
type ChunkStore interface {
	ReplaceSearchChunks(ctx context.Context, docID int64, kind string, chunks []string) error
}

// Chunk splits text into contiguous ChunkSize windows with no overlap. The
// last chunk may be shorter; concatenating the chunks yields the trimmed text.
func Chunk(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, (len(runes)+ChunkSize-1)/ChunkSize)
	for start := 0; start < len(runes); start += ChunkSize {
		end := start + ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Sync rebuilds index entries against the chunk store.
type Sync struct {
	Store ChunkStore
}

// Rebuild replaces every indexed chunk for (docID, kind) with a fresh
// chunking of text, in order.
func (s *Sync) Rebuild(ctx context.Context, docID int64, kind, text string) error {
	if err := s.Store.ReplaceSearchChunks(ctx, docID, kind, Chunk(text)); err != nil {
		return fmt.Errorf("replace search chunks: %w", err)
	}
	return nil
}
