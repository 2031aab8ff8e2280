package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

// Stream yields completion text chunks as the backend produces them. Recv
// returns io.EOF at the end of a normal stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ChatBackend is the streaming contract for a model backend.
type ChatBackend interface {
	Complete(ctx context.Context, messages []models.Message) (Stream, error)
}

// OpenAIBackend talks to an OpenAI-compatible chat completions endpoint in
// streaming mode.
type OpenAIBackend struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIBackend creates a backend for the given endpoint. An empty
// apiKey sends no Authorization header (local model servers).
func NewOpenAIBackend(url, apiKey, model string) *OpenAIBackend {
	return &OpenAIBackend{
		url:    url,
		apiKey: apiKey,
		model:  model,
		// No client-level timeout: streams are long-lived and bounded by
		// the request context instead.
		httpClient: &http.Client{},
	}
}

// Complete implements ChatBackend.
func (b *OpenAIBackend) Complete(ctx context.Context, messages []models.Message) (Stream, error) {
	requestData := map[string]interface{}{
		"model":      b.model,
		"messages":   messages,
		"stream":     true,
		"max_tokens": 512,
	}

	body, err := json.Marshal(requestData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("backend returned %s: %s", resp.Status, string(respBody))
	}

	return &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// completionChunk is one SSE payload from the backend.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// sseStream parses server-sent events from a streaming completion body.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next non-empty content delta. Malformed or empty chunks
// are skipped.
func (s *sseStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := line[6:]
		if data == "[DONE]" {
			return "", io.EOF
		}

		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		return chunk.Choices[0].Delta.Content, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *sseStream) Close() error { return s.body.Close() }
