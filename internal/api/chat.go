package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"hmo-buddy/internal/models"
	"hmo-buddy/internal/rag"
)

// ChatRequest is the chat endpoint body. Optional knobs default to the
// configured values; use_context defaults to true.
type ChatRequest struct {
	Message             string                    `json:"message"`
	UseContext          *bool                     `json:"use_context"`
	Stream              bool                      `json:"stream"`
	ConversationHistory []models.ConversationTurn `json:"conversation_history"`
	NContextDocs        int                       `json:"n_context_docs"`
	MinSimilarity       *float32                  `json:"min_similarity"`
	Temperature         *float64                  `json:"temperature"`
}

// ChatResponse is the non-streaming reply. Sources is present only when
// context retrieval ran and found qualifying chunks.
type ChatResponse struct {
	Response string             `json:"response"`
	Sources  []models.SourceRef `json:"sources,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	req := rag.Request{
		Query:         body.Message,
		History:       body.ConversationHistory,
		UseContext:    true,
		NContextDocs:  body.NContextDocs,
		MinSimilarity: s.cfg.RAG.MinSimilarity,
		Temperature:   *s.cfg.RAG.Temperature,
	}
	if body.UseContext != nil {
		req.UseContext = *body.UseContext
	}
	if body.MinSimilarity != nil {
		req.MinSimilarity = *body.MinSimilarity
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}

	log.Info().Str("message", body.Message).Bool("stream", body.Stream).Msg("chat request")

	if body.Stream {
		s.streamChat(w, r, req)
		return
	}

	resp, err := s.chat.Chat(r.Context(), req, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: resp.Content, Sources: resp.Sources})
}

// streamChat forwards generated fragments to the client as raw text in
// generation order, flushing after every fragment. The request context
// cancels the upstream generation when the client disconnects.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req rag.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	started := false
	streamFn := func(ctx context.Context, chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if _, err := s.chat.Chat(r.Context(), req, streamFn); err != nil {
		if !started {
			writeDomainError(w, err)
			return
		}
		// Headers are gone; append an in-band diagnostic like the UI expects.
		log.Error().Err(err).Msg("streaming chat failed mid-response")
		fmt.Fprintf(w, "\n\n[Error: %v]", err)
		flusher.Flush()
	}
}
