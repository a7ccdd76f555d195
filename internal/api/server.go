// Package api exposes the HTTP REST surface the chat UI consumes.
//
// Endpoints:
//
//	GET    /api/health                      - runtime + store status
//	POST   /api/chat                        - chat turn (optionally streamed)
//	POST   /api/upload                      - ingest an uploaded document
//	GET    /api/documents                   - list indexed documents
//	DELETE /api/documents/{source}          - delete a document's chunks
//	POST   /api/documents/reset             - clear the collection
//	GET    /api/documents/{source}/preview  - rendered document preview
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"hmo-buddy/internal/config"
	"hmo-buddy/internal/llmservice"
	"hmo-buddy/internal/models"
	"hmo-buddy/internal/rag"
	"hmo-buddy/internal/vectorstore"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
)

// ChatService is the slice of the RAG service the handlers need.
type ChatService interface {
	Chat(ctx context.Context, req rag.Request, streamFn func(ctx context.Context, chunk []byte) error) (*rag.Response, error)
}

// DocumentProcessor turns an uploaded file into chunks.
type DocumentProcessor interface {
	ProcessDocument(path string) ([]models.Chunk, error)
}

// Server owns the route table and the handler dependencies.
type Server struct {
	mux *http.ServeMux

	chat      ChatService
	store     vectorstore.Store
	processor DocumentProcessor
	cfg       *config.Config

	// pingFn probes the LLM runtime; swappable in tests.
	pingFn func(ctx context.Context) bool
}

// NewServer creates the server with all routes registered.
func NewServer(chat ChatService, store vectorstore.Store, processor DocumentProcessor, cfg *config.Config) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		chat:      chat,
		store:     store,
		processor: processor,
		cfg:       cfg,
		pingFn: func(ctx context.Context) bool {
			return llmservice.Ping(ctx, cfg.ChatLLM.BaseURL)
		},
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	s.mux.HandleFunc("DELETE /api/documents/{source}", s.handleDeleteDocument)
	s.mux.HandleFunc("POST /api/documents/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/documents/{source}/preview", s.handlePreview)
	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery -> logging -> cors -> routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware, corsMiddleware(s.cfg.Server.CORSOrigins))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
//
// Write timeouts are deliberately unset: streaming chat responses hold the
// connection open for as long as generation runs.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
