package api

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// HealthResponse reports runtime availability so the UI can warn before
// the user sends a message.
type HealthResponse struct {
	Status          string `json:"status"`
	LLMModel        string `json:"llm_model"`
	EmbeddingModel  string `json:"embedding_model"`
	DocumentsCount  int    `json:"documents_count"`
	OllamaAvailable bool   `json:"ollama_available"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	available := s.pingFn(r.Context())

	count, err := s.store.Count(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("health: store count failed")
		writeDomainError(w, err)
		return
	}

	status := "healthy"
	if !available {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          status,
		LLMModel:        s.cfg.ChatLLM.Model,
		EmbeddingModel:  s.cfg.EmbedLLM.Model,
		DocumentsCount:  count,
		OllamaAvailable: available,
	})
}
