// Package embedding computes and stores content-addressed vectors for
// events, sessions, and lessons, and serves semantic recall over them.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentlensai/agentlens/pkg/models"
)

// requestTimeout bounds every call to the embedding service.
const requestTimeout = 10 * time.Second

// Client computes a vector for a piece of text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}

// HTTPClient talks to an OpenAI-compatible embeddings endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewHTTPClient creates a client for the configured embedding service.
func NewHTTPClient(endpoint, apiKey, model string, dimensions int) *HTTPClient {
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Model returns the configured model identifier.
func (c *HTTPClient) Model() string { return c.model }

// Dimensions returns the configured vector width.
func (c *HTTPClient) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes a vector for the given text.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, models.WrapError(models.KindDependency, "encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapError(models.KindDependency, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.WrapError(models.KindDependency, "call embedding service", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, models.NewError(models.KindDependency,
			fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, snippet))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, models.WrapError(models.KindDependency, "decode embedding response", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, models.NewError(models.KindDependency, "embedding service returned no vector")
	}
	return decoded.Data[0].Embedding, nil
}
