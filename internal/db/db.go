// Package db provides the optional Postgres/pgvector vector store
// backend. It implements the same Store contract as the chromem backend,
// so the two are swappable through configuration.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"hmo-buddy/internal/models"
	"hmo-buddy/internal/vectorstore"
)

// vectorSize matches the mxbai-embed-large embedding dimension.
const vectorSize = 1024

// ChunkRecord is one stored chunk row. The autoincrement id doubles as
// insertion order for deterministic tie-breaking.
type ChunkRecord struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID          int64   `bun:"id,pk,autoincrement"`
	ChunkID     string  `bun:"chunk_id,notnull,unique"`
	Source      string  `bun:"source,notnull"`
	ChunkIndex  int     `bun:"chunk_index,notnull"`
	TotalChunks int     `bun:"total_chunks,notnull"`
	Content     string  `bun:"content,notnull"`
	Embedding   string  `bun:"embedding,notnull,type:vector(1024)"`
	Similarity  float32 `bun:"similarity,scanonly"`
}

// PGStore implements vectorstore.Store on Postgres with the pgvector
// extension. Mutation exclusivity comes from the database itself.
type PGStore struct {
	db    *bun.DB
	embed vectorstore.EmbedFunc
}

// Connect opens a bun handle on the configured DSN.
func Connect(dsn, password string, debug bool) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(password)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// NewPGStore verifies connectivity, ensures the schema, and returns the
// store.
func NewPGStore(ctx context.Context, db *bun.DB, embed vectorstore.EmbedFunc) (*PGStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", models.ErrBackendUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*ChunkRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create chunks table: %w", err)
	}
	log.Info().Msg("postgres vector store ready")
	return &PGStore{db: db, embed: embed}, nil
}

func (s *PGStore) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if embeddings != nil && len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrValidation, len(chunks), len(embeddings))
	}

	ids := make([]string, len(chunks))
	recs := make([]ChunkRecord, len(chunks))
	for i, chunk := range chunks {
		var emb []float32
		if embeddings != nil && embeddings[i] != nil {
			emb = embeddings[i]
		} else {
			var err error
			emb, err = s.embed(ctx, chunk.Content)
			if err != nil {
				return nil, fmt.Errorf("%w: embedding: %v", models.ErrBackendUnavailable, err)
			}
		}
		if len(emb) != vectorSize {
			return nil, fmt.Errorf("%w: embedding has %d dimensions, column expects %d", models.ErrValidation, len(emb), vectorSize)
		}
		ids[i] = chunk.ID()
		recs[i] = ChunkRecord{
			ChunkID:     ids[i],
			Source:      chunk.Source,
			ChunkIndex:  chunk.Index,
			TotalChunks: chunk.Total,
			Content:     chunk.Content,
			Embedding:   vectorLiteral(emb),
		}
	}

	if _, err := s.db.NewInsert().Model(&recs).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	return ids, nil
}

func (s *PGStore) Search(ctx context.Context, queryEmbedding []float32, k int, minSimilarity float32) ([]models.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := vectorLiteral(queryEmbedding)

	var recs []ChunkRecord
	err := s.db.NewSelect().
		Model(&recs).
		ColumnExpr("c.*").
		ColumnExpr("1 - (embedding <=> ?::vector) AS similarity", vec).
		OrderExpr("embedding <=> ?::vector ASC, id ASC", vec).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, 0, len(recs))
	for _, rec := range recs {
		if rec.Similarity < minSimilarity {
			continue
		}
		out = append(out, models.SearchResult{
			Chunk: models.StoredChunk{
				ID:      rec.ChunkID,
				Content: rec.Content,
				Metadata: map[string]string{
					models.MetaSource:      rec.Source,
					models.MetaChunkIndex:  strconv.Itoa(rec.ChunkIndex),
					models.MetaTotalChunks: strconv.Itoa(rec.TotalChunks),
				},
			},
			Similarity: rec.Similarity,
		})
	}
	return out, nil
}

func (s *PGStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	var recs []ChunkRecord
	err := s.db.NewSelect().
		Model(&recs).
		Column("chunk_id", "source", "chunk_index").
		OrderExpr("source ASC, chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	bySource := map[string]*models.DocumentInfo{}
	for _, rec := range recs {
		info, ok := bySource[rec.Source]
		if !ok {
			info = &models.DocumentInfo{Source: rec.Source}
			bySource[rec.Source] = info
		}
		info.Chunks++
		info.IDs = append(info.IDs, rec.ChunkID)
	}

	infos := make([]models.DocumentInfo, 0, len(bySource))
	for _, info := range bySource {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Source < infos[j].Source })
	return infos, nil
}

func (s *PGStore) Delete(ctx context.Context, source string) (int, error) {
	res, err := s.db.NewDelete().Model((*ChunkRecord)(nil)).Where("source = ?", source).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrNotFound, source)
	}
	return int(n), nil
}

func (s *PGStore) Reset(ctx context.Context) error {
	if _, err := s.db.NewTruncateTable().Model((*ChunkRecord)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	return nil
}

func (s *PGStore) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*ChunkRecord)(nil)).Count(ctx)
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// vectorLiteral renders an embedding in pgvector's input syntax.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
