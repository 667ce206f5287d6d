package openrouter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tetherhq/tether/gateway/internal/domain/service"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Config carries the client settings. BaseURL is overridable for tests and
// self-hosted proxies.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client is an HTTP client for the OpenRouter completions and model catalog
// endpoints. It implements service.CompletionClient and service.ModelLister.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

var (
	_ service.CompletionClient = (*Client)(nil)
	_ service.ModelLister      = (*Client)(nil)
)

func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Transport: transport},
		logger:  logger.With(zap.String("component", "openrouter")),
	}
}

// StreamCompletion opens a streaming chat completion. Non-2xx statuses come
// back as *service.APIError so the caller can decide whether to retry.
func (c *Client) StreamCompletion(ctx context.Context, req *service.Request) (service.CompletionStream, error) {
	resp, err := c.postCompletion(ctx, buildRequest(req, true), true)
	if err != nil {
		return nil, err
	}
	return newStream(resp.Body, c.logger), nil
}

// Complete runs a non-streaming chat completion and returns the assistant
// message content.
func (c *Client) Complete(ctx context.Context, req *service.Request) (string, error) {
	resp, err := c.postCompletion(ctx, buildRequest(req, false), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response: no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}

func (c *Client) postCompletion(ctx context.Context, apiReq *Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &service.APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

// ListModels returns the model catalog in listing order.
func (c *Client) ListModels(ctx context.Context) ([]service.ModelEntry, error) {
	records, err := c.fetchModels(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]service.ModelEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, service.ModelEntry{
			ID:          rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
		})
	}
	return entries, nil
}

// ModelDetails returns catalog metadata for one model. A model missing from
// the catalog yields an empty map, not an error.
func (c *Client) ModelDetails(ctx context.Context, model string) (map[string]interface{}, error) {
	records, err := c.fetchModels(ctx)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.ID != model {
			continue
		}
		name := rec.Name
		if name == "" {
			name = rec.ID
		}
		description := rec.Description
		if description == "" {
			description = "No description available."
		}
		pricing := rec.Pricing
		if pricing == nil {
			pricing = map[string]interface{}{}
		}
		topProvider := rec.TopProvider
		if topProvider == nil {
			topProvider = map[string]interface{}{}
		}
		return map[string]interface{}{
			"name":           name,
			"description":    description,
			"context_length": rec.ContextLength,
			"pricing":        pricing,
			"top_provider":   topProvider,
		}, nil
	}
	return map[string]interface{}{}, nil
}

func (c *Client) fetchModels(ctx context.Context) ([]ModelRecord, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &service.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var modelsResp ModelsResponse
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		return nil, fmt.Errorf("parse models response: %w", err)
	}
	return modelsResp.Data, nil
}

// Close releases idle connections. In-flight streams keep their bodies.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
