package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"hmo-buddy/internal/models"
)

// ChromemStore is the default on-disk backend, built on chromem-go.
//
// chromem-go has no API to enumerate a collection, so the store keeps a
// sidecar registry (source -> ordered chunk ids, plus global insertion
// order) persisted as JSON next to the database. The registry is updated
// under the write lock in the same mutation that touches the collection,
// and reloaded on startup.
type ChromemStore struct {
	mu sync.RWMutex

	db         *chromem.DB
	collection *chromem.Collection
	embed      EmbedFunc

	path          string
	name          string
	compress      bool
	encryptionKey string

	registry registry
	regPath  string
}

type registry struct {
	Order   []string            `json:"order"`
	Sources map[string][]string `json:"sources"`
}

// NewChromemStore opens (or creates) the persistent collection at path.
// Existing persisted state is loaded, so the store survives restarts.
func NewChromemStore(path, collection string, compress bool, encryptionKey string, embed EmbedFunc) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	col, err := db.GetOrCreateCollection(collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}

	s := &ChromemStore{
		db:            db,
		collection:    col,
		embed:         embed,
		path:          path,
		name:          collection,
		compress:      compress,
		encryptionKey: encryptionKey,
		registry:      registry{Sources: map[string][]string{}},
		regPath:       filepath.Join(path, collection+".sources.json"),
	}
	if err := s.loadRegistry(); err != nil {
		return nil, err
	}
	log.Info().Str("collection", collection).Int("count", col.Count()).Msg("vector store opened")
	return s, nil
}

func (s *ChromemStore) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if embeddings != nil && len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrValidation, len(chunks), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(chunks))
	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		id := chunk.ID()
		if chunk.Source == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		doc := chromem.Document{
			ID:       id,
			Content:  chunk.Content,
			Metadata: chunk.Metadata(),
		}
		if embeddings != nil {
			doc.Embedding = embeddings[i]
		}
		docs[i] = doc
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}

	// chromem overwrites a document with a known id, so re-adding the same
	// chunks must not register their ids a second time.
	known := make(map[string]struct{}, len(s.registry.Order))
	for _, id := range s.registry.Order {
		known[id] = struct{}{}
	}
	for i, chunk := range chunks {
		if _, ok := known[ids[i]]; ok {
			continue
		}
		known[ids[i]] = struct{}{}
		src := chunk.Source
		if src == "" {
			src = "Unknown"
		}
		s.registry.Sources[src] = append(s.registry.Sources[src], ids[i])
		s.registry.Order = append(s.registry.Order, ids[i])
	}
	if err := s.saveRegistry(); err != nil {
		return nil, err
	}
	log.Info().Int("added", len(docs)).Str("collection", s.name).Msg("stored chunks")
	return ids, nil
}

func (s *ChromemStore) Search(ctx context.Context, queryEmbedding []float32, k int, minSimilarity float32) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	pos := make(map[string]int, len(s.registry.Order))
	for i, id := range s.registry.Order {
		pos[id] = i
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, models.SearchResult{
			Chunk: models.StoredChunk{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Similarity: r.Similarity,
		})
	}
	// Equal scores keep insertion order for deterministic results.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return pos[out[i].Chunk.ID] < pos[out[j].Chunk.ID]
	})
	return out, nil
}

func (s *ChromemStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]models.DocumentInfo, 0, len(s.registry.Sources))
	for source, ids := range s.registry.Sources {
		infos = append(infos, models.DocumentInfo{
			Source: source,
			Chunks: len(ids),
			IDs:    append([]string(nil), ids...),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Source < infos[j].Source })
	return infos, nil
}

func (s *ChromemStore) Delete(ctx context.Context, source string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.registry.Sources[source]
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrNotFound, source)
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}
	order := s.registry.Order[:0]
	for _, id := range s.registry.Order {
		if _, ok := removed[id]; !ok {
			order = append(order, id)
		}
	}
	s.registry.Order = order
	delete(s.registry.Sources, source)
	if err := s.saveRegistry(); err != nil {
		return 0, err
	}
	log.Info().Str("source", source).Int("deleted", len(ids)).Msg("deleted document")
	return len(ids), nil
}

func (s *ChromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, chromem.EmbeddingFunc(s.embed))
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	s.collection = col
	s.registry = registry{Sources: map[string][]string{}}
	if err := s.saveRegistry(); err != nil {
		return err
	}
	log.Info().Str("collection", s.name).Msg("vector store reset")
	return nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Export writes an encrypted snapshot of the collection for backup.
func (s *ChromemStore) Export(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.encryptionKey == "" {
		return fmt.Errorf("%w: encryption key is required for export", models.ErrInvalidConfig)
	}
	target := filepath.Join(s.path, s.name+".chromem")
	if err := s.db.ExportToFile(target, s.compress, s.encryptionKey, s.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	log.Info().Str("file", target).Msg("exported collection")
	return nil
}

func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRegistry()
}

func (s *ChromemStore) loadRegistry() error {
	data, err := os.ReadFile(s.regPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read source registry: %w", err)
	}
	if err := json.Unmarshal(data, &s.registry); err != nil {
		return fmt.Errorf("failed to parse source registry: %w", err)
	}
	if s.registry.Sources == nil {
		s.registry.Sources = map[string][]string{}
	}
	return nil
}

func (s *ChromemStore) saveRegistry() error {
	data, err := json.Marshal(s.registry)
	if err != nil {
		return fmt.Errorf("failed to encode source registry: %w", err)
	}
	tmp := s.regPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write source registry: %w", err)
	}
	return os.Rename(tmp, s.regPath)
}
