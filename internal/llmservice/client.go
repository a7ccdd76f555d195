// Package llmservice wraps the Ollama chat model behind a narrow
// interface the RAG service (and its tests) can depend on.
package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"hmo-buddy/internal/config"
	"hmo-buddy/internal/models"
)

// ChatModel is the generation contract: text messages in, content out.
// *ollama.LLM satisfies it.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewOllamaModel creates the chat model client for the configured
// generation model.
func NewOllamaModel(llmConfig *config.LLMConfig) (*ollama.LLM, error) {
	log.Debug().
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Msg("initializing chat model")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing chat LLM: %w", err)
	}
	return llm, nil
}

// GenerateContent runs one generation. When streamFn is non-nil, produced
// fragments are forwarded through it in generation order as they arrive;
// the returned string is always the complete response text. A streamFn
// error or context cancellation stops the upstream generation.
func GenerateContent(ctx context.Context, model ChatModel, messages []llms.MessageContent, temperature float64, streamFn func(ctx context.Context, chunk []byte) error) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if streamFn != nil {
		opts = append(opts, llms.WithStreamingFunc(streamFn))
	}

	res, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: generation: %v", models.ErrBackendUnavailable, err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: generation returned no choices", models.ErrBackendUnavailable)
	}
	return res.Choices[0].Content, nil
}

// Ping reports whether the Ollama runtime is reachable. Used by the
// health endpoint so the UI can warn before the user sends a message.
func Ping(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("ollama not available")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
