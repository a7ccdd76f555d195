package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Metadata keys attached to every stored chunk.
const (
	MetaSource      = "source"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
)

// Chunk is a bounded window of a source document, the unit of retrieval.
type Chunk struct {
	Content string
	Source  string
	Index   int
	Total   int
}

// ID returns the deterministic identifier for the chunk, derived from
// source and ordinal so that re-ingesting the same file yields stable ids.
func (c Chunk) ID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", c.Source, c.Index)))
	return hex.EncodeToString(sum[:])[:16]
}

// Metadata returns the chunk's provenance as stored alongside its embedding.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaSource:      c.Source,
		MetaChunkIndex:  strconv.Itoa(c.Index),
		MetaTotalChunks: strconv.Itoa(c.Total),
	}
}

// StoredChunk is a chunk as it comes back out of a vector store.
type StoredChunk struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Source returns the originating document name, or "Unknown" when the
// chunk was stored without provenance.
func (s StoredChunk) Source() string {
	if src, ok := s.Metadata[MetaSource]; ok && src != "" {
		return src
	}
	return "Unknown"
}

// SearchResult pairs a stored chunk with its similarity to a query.
type SearchResult struct {
	Chunk      StoredChunk
	Similarity float32
}

// DocumentInfo aggregates the stored chunks of one source document.
type DocumentInfo struct {
	Source string   `json:"source"`
	Chunks int      `json:"chunks"`
	IDs    []string `json:"ids"`
}

// ConversationTurn is one prior message of the client-held chat history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceRef is the provenance reported back with a generated answer.
type SourceRef struct {
	Source     string  `json:"source"`
	Similarity float32 `json:"similarity"`
}
