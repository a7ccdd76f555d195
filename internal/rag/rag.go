// Package rag orchestrates a chat turn: retrieval, prompt assembly, and
// generation against the local LLM runtime.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"hmo-buddy/internal/config"
	"hmo-buddy/internal/llmservice"
	"hmo-buddy/internal/models"
	"hmo-buddy/internal/vectorstore"
)

// Embedder turns a query into the vector compared against stored chunks.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service wires the store, embedder, and chat model together. The runtime
// collaborators are external processes; any of them may fail or time out.
type Service struct {
	store    vectorstore.Store
	embedder Embedder
	model    llmservice.ChatModel
	cfg      config.RAGConfig
}

func NewService(store vectorstore.Store, embedder Embedder, model llmservice.ChatModel, cfg config.RAGConfig) *Service {
	return &Service{store: store, embedder: embedder, model: model, cfg: cfg}
}

// Request is one chat turn. Zero NContextDocs falls back to the
// configured default; Temperature is taken as-is (0 is deterministic).
type Request struct {
	Query         string
	History       []models.ConversationTurn
	UseContext    bool
	NContextDocs  int
	MinSimilarity float32
	Temperature   float64
}

// Response is the generated answer plus the provenance of the chunks that
// conditioned it (empty when retrieval was disabled or found nothing).
type Response struct {
	Content string
	Sources []models.SourceRef
}

// RetrieveContext embeds the query and returns the chunks passing the
// similarity floor, ranked by descending similarity.
func (s *Service) RetrieveContext(ctx context.Context, query string, k int, minSimilarity float32) ([]models.SearchResult, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", models.ErrBackendUnavailable, err)
	}
	results, err := s.store.Search(ctx, queryEmbedding, k, minSimilarity)
	if err != nil {
		return nil, err
	}
	log.Info().Int("chunks", len(results)).Str("query", truncate(query, 50)).Msg("retrieved context")
	return results, nil
}

// Chat runs one turn. Retrieval (when enabled) completes before
// generation begins. When streamFn is non-nil, response fragments are
// forwarded through it in generation order; the returned Response always
// carries the full text.
func (s *Service) Chat(ctx context.Context, req Request, streamFn func(ctx context.Context, chunk []byte) error) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: message must not be empty", models.ErrValidation)
	}
	k := req.NContextDocs
	if k <= 0 {
		k = s.cfg.NContextDocs
	}

	var contexts []models.SearchResult
	if req.UseContext {
		var err error
		contexts, err = s.RetrieveContext(ctx, req.Query, k, req.MinSimilarity)
		if err != nil {
			return nil, err
		}
	}

	messages := s.buildMessages(req.Query, req.History, contexts)
	text, err := llmservice.GenerateContent(ctx, s.model, messages, req.Temperature, streamFn)
	if err != nil {
		return nil, err
	}

	resp := &Response{Content: text}
	for _, c := range contexts {
		resp.Sources = append(resp.Sources, models.SourceRef{
			Source:     c.Chunk.Source(),
			Similarity: c.Similarity,
		})
	}
	return resp, nil
}

// buildMessages assembles the prompt: system instruction (with attributed
// context chunks, or an explicit no-context framing), the prior turns in
// caller order, then the current query.
func (s *Service) buildMessages(query string, history []models.ConversationTurn, contexts []models.SearchResult) []llms.MessageContent {
	var messages []llms.MessageContent

	if len(contexts) > 0 {
		var contextText strings.Builder
		for i, c := range contexts {
			if i > 0 {
				contextText.WriteString("\n\n")
			}
			contextText.WriteString(fmt.Sprintf("[Source: %s]\n%s", c.Chunk.Source(), c.Chunk.Content))
		}
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, models.ContextSystemPrompt+contextText.String()))
	} else {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, models.NoContextSystemPrompt))
	}

	turns := history
	if len(turns) > models.MaxHistoryTurns {
		turns = turns[len(turns)-models.MaxHistoryTurns:]
	}
	for _, turn := range turns {
		role := llms.ChatMessageTypeHuman
		if turn.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}

	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))
	return messages
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
