package api

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"hmo-buddy/internal/models"
	"hmo-buddy/internal/parser"
)

const maxUploadBytes = 32 << 20

// UploadResponse reports the outcome of an accepted upload.
type UploadResponse struct {
	Message       string `json:"message"`
	ChunksCreated int    `json:"chunks_created"`
	Filename      string `json:"filename"`
}

// DocumentsResponse lists the indexed documents grouped by source.
type DocumentsResponse struct {
	Documents []models.DocumentInfo `json:"documents"`
	Count     int                   `json:"count"`
}

// DeleteResponse reports a completed per-source delete.
type DeleteResponse struct {
	Message       string `json:"message"`
	ChunksDeleted int    `json:"chunks_deleted"`
}

// MessageResponse carries a bare confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

// handleUpload ingests one uploaded file: validate format, persist the
// file in the documents directory, chunk it, and index the chunks. A
// previously indexed source of the same name is replaced, so re-uploading
// is idempotent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !parser.Supported(filename) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %s; allowed: .txt, .md, .markdown, .pdf, .docx, .xlsx, .ods", filepath.Ext(filename)))
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	// The stored file is the source of truth for reprocessing; chunk
	// metadata derives its source name from it.
	destPath := filepath.Join(s.cfg.DocumentsDir, filename)
	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		writeDomainError(w, fmt.Errorf("%w: saving upload: %v", models.ErrRead, err))
		return
	}

	chunks, err := s.processor.ProcessDocument(destPath)
	if err != nil {
		// Nothing was indexed; don't keep an unprocessable file around.
		_ = os.Remove(destPath)
		writeDomainError(w, err)
		return
	}

	// Replace-by-default: drop the previous chunks of this source first.
	if _, err := s.store.Delete(r.Context(), filename); err != nil && !errors.Is(err, models.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	if _, err := s.store.Add(r.Context(), chunks, nil); err != nil {
		writeDomainError(w, err)
		return
	}

	log.Info().Str("filename", filename).Int("chunks", len(chunks)).Msg("uploaded document")
	writeJSON(w, http.StatusOK, UploadResponse{
		Message:       fmt.Sprintf("Successfully processed %s", filename),
		ChunksCreated: len(chunks),
		Filename:      filename,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if infos == nil {
		infos = []models.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, DocumentsResponse{Documents: infos, Count: len(infos)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	n, err := s.store.Delete(r.Context(), source)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Remove the retained source file as well, if we have it.
	docPath := filepath.Join(s.cfg.DocumentsDir, filepath.Base(source))
	if err := os.Remove(docPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", docPath).Msg("failed to remove source file")
	}

	writeJSON(w, http.StatusOK, DeleteResponse{
		Message:       fmt.Sprintf("Deleted %s", source),
		ChunksDeleted: n,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "All documents cleared"})
}

// handlePreview serves the retained source file rendered for display:
// markdown is converted to HTML, plain text is escaped into a <pre>
// block. Binary formats have no preview.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	source := filepath.Base(r.PathValue("source"))
	path := filepath.Join(s.cfg.DocumentsDir, source)

	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no stored file for %s", source))
		return
	}

	switch strings.ToLower(filepath.Ext(source)) {
	case ".md", ".markdown":
		md := goldmark.New(goldmark.WithExtensions(extension.GFM))
		var buf bytes.Buffer
		if err := md.Convert(data, &buf); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render markdown: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	case ".txt":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<pre>%s</pre>", html.EscapeString(string(data)))
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("no preview available for %s", source))
	}
}
