package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slurmsage/internal/logging"
)

// OllamaClient implements Client against a local Ollama server. No API key
// is required; the server address comes from config or OLLAMA_HOST.
type OllamaClient struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// DefaultOllamaConfig returns sensible defaults for a local server.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Endpoint: "http://localhost:11434",
		Model:    "llama3.1",
		Timeout:  120 * time.Second,
	}
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(endpoint, model string) *OllamaClient {
	config := DefaultOllamaConfig()
	if endpoint != "" {
		config.Endpoint = endpoint
	}
	if model != "" {
		config.Model = model
	}
	return NewOllamaClientWithConfig(config)
}

// NewOllamaClientWithConfig creates a new Ollama client with custom config.
func NewOllamaClientWithConfig(config OllamaConfig) *OllamaClient {
	return &OllamaClient{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		model:    config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

// Complete sends a prompt and returns the completion.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OllamaClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	startTime := time.Now()
	logging.LLMDebug("[Ollama] CompleteWithSystem: model=%s endpoint=%s", c.model, c.endpoint)

	messages := make([]ollamaChatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})

	reqBody := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if chatResp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", chatResp.Error)
	}

	response := strings.TrimSpace(chatResp.Message.Content)
	logging.LLM("[Ollama] CompleteWithSystem: completed in %v response_len=%d", time.Since(startTime), len(response))
	return response, nil
}

// SetModel changes the model used for completions.
func (c *OllamaClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *OllamaClient) GetModel() string {
	return c.model
}
