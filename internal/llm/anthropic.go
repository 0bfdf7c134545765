package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AnthropicClient is a vision-capable Backend for Anthropic Claude.
type AnthropicClient struct {
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	baseURL    string
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string, maxTokens int, timeout time.Duration) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "https://api.anthropic.com/v1",
	}
}

// Anthropic API request/response types
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content []anthropicPart `json:"content"`
}

type anthropicPart struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends the prompt, with an optional base64 image block, and returns
// the concatenated text content.
func (c *AnthropicClient) Invoke(ctx context.Context, prompt string, image []byte) (*Response, error) {
	parts := []anthropicPart{{Type: "text", Text: prompt}}
	if len(image) > 0 {
		parts = append(parts, anthropicPart{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: detectMediaType(image),
				Data:      base64.StdEncoding.EncodeToString(image),
			},
		})
	}

	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: parts}},
		Temperature: 0.3,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	url := fmt.Sprintf("%s/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))}
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	content := ""
	for _, part := range anthropicResp.Content {
		if part.Type == "text" {
			content += part.Text
		}
	}

	return &Response{
		Content:      content,
		InputTokens:  anthropicResp.Usage.InputTokens,
		OutputTokens: anthropicResp.Usage.OutputTokens,
		Model:        anthropicResp.Model,
	}, nil
}

// SetBaseURL overrides the API endpoint, for proxies and self-hosted gateways.
func (c *AnthropicClient) SetBaseURL(url string) { c.baseURL = url }

// Provider returns the provider name.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Model returns the model name.
func (c *AnthropicClient) Model() string { return c.model }

// detectMediaType sniffs the image format from magic bytes, defaulting to PNG.
func detectMediaType(image []byte) string {
	if len(image) >= 3 && image[0] == 0xff && image[1] == 0xd8 && image[2] == 0xff {
		return "image/jpeg"
	}
	if len(image) >= 6 && string(image[:6]) == "GIF87a" || len(image) >= 6 && string(image[:6]) == "GIF89a" {
		return "image/gif"
	}
	return "image/png"
}
