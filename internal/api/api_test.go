package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hmo-buddy/internal/config"
	"hmo-buddy/internal/models"
	"hmo-buddy/internal/parser"
	"hmo-buddy/internal/rag"
)

type fakeChat struct {
	resp    *rag.Response
	err     error
	stream  []string
	lastReq rag.Request
	calls   int
}

func (f *fakeChat) Chat(ctx context.Context, req rag.Request, streamFn func(ctx context.Context, chunk []byte) error) (*rag.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if streamFn != nil {
		for _, part := range f.stream {
			if err := streamFn(ctx, []byte(part)); err != nil {
				return nil, err
			}
		}
	}
	return f.resp, nil
}

type fakeStore struct {
	infos     []models.DocumentInfo
	count     int
	deleted   int
	deleteErr error
	addCalls  int
	added     []models.Chunk
	resets    int
}

func (f *fakeStore) Add(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) ([]string, error) {
	f.addCalls++
	f.added = append(f.added, chunks...)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID()
	}
	return ids, nil
}

func (f *fakeStore) Search(ctx context.Context, queryEmbedding []float32, k int, minSimilarity float32) ([]models.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	return f.infos, nil
}

func (f *fakeStore) Delete(ctx context.Context, source string) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.deleted, nil
}

func (f *fakeStore) Reset(ctx context.Context) error {
	f.resets++
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) { return f.count, nil }
func (f *fakeStore) Close() error                           { return nil }

func newTestServer(t *testing.T, chat ChatService, store *fakeStore) *Server {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.DocumentsDir = t.TempDir()

	processor, err := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	require.NoError(t, err)

	s := NewServer(chat, store, processor, cfg)
	s.pingFn = func(ctx context.Context) bool { return true }
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	store := &fakeStore{count: 7}
	s := newTestServer(t, &fakeChat{}, store)

	t.Run("healthy", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.True(t, resp.OllamaAvailable)
		assert.Equal(t, 7, resp.DocumentsCount)
		assert.Equal(t, "llama3.2", resp.LLMModel)
		assert.Equal(t, "mxbai-embed-large", resp.EmbeddingModel)
	})

	t.Run("degraded when runtime unreachable", func(t *testing.T) {
		s.pingFn = func(ctx context.Context) bool { return false }
		defer func() { s.pingFn = func(ctx context.Context) bool { return true } }()

		w := doJSON(t, s, http.MethodGet, "/api/health", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.False(t, resp.OllamaAvailable)
	})
}

func TestChat_NonStreaming(t *testing.T) {
	chat := &fakeChat{resp: &rag.Response{
		Content: "An HMO is a Health Maintenance Organization.",
		Sources: []models.SourceRef{{Source: "hmo.txt", Similarity: 0.9}},
	}}
	s := newTestServer(t, chat, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/chat", map[string]any{"message": "What is HMO?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "An HMO is a Health Maintenance Organization.", resp.Response)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "hmo.txt", resp.Sources[0].Source)

	// use_context defaults to true, knobs default from config.
	assert.True(t, chat.lastReq.UseContext)
	assert.InDelta(t, 0.7, chat.lastReq.Temperature, 1e-6)
}

func TestChat_UseContextFalse(t *testing.T) {
	chat := &fakeChat{resp: &rag.Response{Content: "ok"}}
	s := newTestServer(t, chat, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/chat", map[string]any{
		"message":     "hi",
		"use_context": false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, chat.lastReq.UseContext)
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, &fakeStore{})

	t.Run("missing message", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/chat", map[string]any{})
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Detail, "message is required")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChat_BackendUnavailable(t *testing.T) {
	chat := &fakeChat{err: models.ErrBackendUnavailable}
	s := newTestServer(t, chat, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/chat", map[string]any{"message": "hi"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, "unavailable")
}

func TestChat_Streaming(t *testing.T) {
	chat := &fakeChat{
		resp:   &rag.Response{Content: "streamed answer"},
		stream: []string{"streamed ", "answer"},
	}
	s := newTestServer(t, chat, &fakeStore{})

	w := doJSON(t, s, http.MethodPost, "/api/chat", map[string]any{
		"message": "hi",
		"stream":  true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	// Raw fragments in generation order, no framing.
	assert.Equal(t, "streamed answer", w.Body.String())
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	store := &fakeStore{deleteErr: models.ErrNotFound}
	s := newTestServer(t, &fakeChat{}, store)

	req := uploadRequest(t, "test.txt", "HMO stands for Health Maintenance Organization.")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test.txt", resp.Filename)
	assert.Equal(t, 1, resp.ChunksCreated)

	require.Len(t, store.added, 1)
	assert.Equal(t, "test.txt", store.added[0].Source)

	// The uploaded file is retained for reprocessing.
	data, err := os.ReadFile(filepath.Join(s.cfg.DocumentsDir, "test.txt"))
	require.NoError(t, err)
	assert.Equal(t, "HMO stands for Health Maintenance Organization.", string(data))
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, &fakeChat{}, store)

	req := uploadRequest(t, "malware.exe", "nope")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, "unsupported file type")

	// Rejected before any side effect.
	assert.Zero(t, store.addCalls)
	_, err := os.Stat(filepath.Join(s.cfg.DocumentsDir, "malware.exe"))
	assert.True(t, os.IsNotExist(err))
}

func TestUpload_EmptyDocument(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, &fakeChat{}, store)

	req := uploadRequest(t, "blank.txt", "   \n ")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, store.addCalls)

	// An unprocessable file is not kept around.
	_, err := os.Stat(filepath.Join(s.cfg.DocumentsDir, "blank.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestListDocuments(t *testing.T) {
	store := &fakeStore{infos: []models.DocumentInfo{
		{Source: "a.txt", Chunks: 2, IDs: []string{"id1", "id2"}},
		{Source: "b.md", Chunks: 1, IDs: []string{"id3"}},
	}}
	s := newTestServer(t, &fakeChat{}, store)

	w := doJSON(t, s, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp DocumentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "a.txt", resp.Documents[0].Source)
	assert.Equal(t, 2, resp.Documents[0].Chunks)
}

func TestListDocuments_Empty(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, &fakeStore{})

	w := doJSON(t, s, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents":[],"count":0}`, w.Body.String())
}

func TestDeleteDocument(t *testing.T) {
	t.Run("deletes chunks and retained file", func(t *testing.T) {
		store := &fakeStore{deleted: 3}
		s := newTestServer(t, &fakeChat{}, store)
		require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DocumentsDir, "a.txt"), []byte("x"), 0o644))

		w := doJSON(t, s, http.MethodDelete, "/api/documents/a.txt", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp DeleteResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.ChunksDeleted)

		_, err := os.Stat(filepath.Join(s.cfg.DocumentsDir, "a.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("unknown source is 404", func(t *testing.T) {
		store := &fakeStore{deleteErr: models.ErrNotFound}
		s := newTestServer(t, &fakeChat{}, store)

		w := doJSON(t, s, http.MethodDelete, "/api/documents/ghost.txt", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestResetDocuments(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, &fakeChat{}, store)

	w := doJSON(t, s, http.MethodPost, "/api/documents/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.resets)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "All documents cleared", resp.Message)
}

func TestPreview(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, &fakeStore{})

	t.Run("markdown renders to HTML", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DocumentsDir, "guide.md"), []byte("# Coverage\n\nDental included."), 0o644))

		w := doJSON(t, s, http.MethodGet, "/api/documents/guide.md/preview", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "<h1")
		assert.Contains(t, w.Body.String(), "Coverage")
	})

	t.Run("plain text is escaped", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(s.cfg.DocumentsDir, "raw.txt"), []byte("a < b"), 0o644))

		w := doJSON(t, s, http.MethodGet, "/api/documents/raw.txt/preview", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "<pre>a &lt; b</pre>")
	})

	t.Run("unknown source is 404", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/documents/nope.md/preview", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeChat{}, &fakeStore{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
