// Package rag chunks, embeds and indexes card content for retrieval.
//
// Service is the reference implementation of the Store interface: a word
// chunker, embeddings through pkg/llm, an in-memory vector store and an
// index tracker that makes re-indexing unchanged content a no-op. The
// tracker has a durable Postgres implementation; the vector store is
// rebuilt from canvas events on restart.
package rag

import "strings"

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window and overlap in words.
// Non-positive sizes fall back to the whole text as one chunk; an overlap
// at or above the size is reduced so the window always advances.
func NewChunker(size, overlap int) *Chunker {
	if overlap < 0 {
		overlap = 0
	}
	if size > 0 && overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the chunks of text. Words are whitespace-separated; each
// chunk carries overlap words from the end of the previous one. Blank text
// yields no chunks.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if c.size <= 0 || len(words) <= c.size {
		return []string{strings.Join(words, " ")}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
