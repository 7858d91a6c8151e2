package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint    = "http://localhost:11434/api/generate"
	DefaultModel       = "gpt-oss:20b"
	DefaultTemperature = 0.2
	DefaultTopP        = 0.9
)

// Config configures the Ollama notes generator
type Config struct {
	Endpoint    string
	Model       string
	Temperature float64
	TopP        float64
	// Timeout bounds one generation; 0 means no limit
	Timeout time.Duration
}

// Client generates lecture notes through Ollama's generate API
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient creates an Ollama client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.TopP == 0 {
		cfg.TopP = DefaultTopP
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Generate returns markdown notes for transcript. It never fails: when
// Ollama cannot be reached the returned markdown describes the error.
func (c *Client) Generate(ctx context.Context, transcript string) string {
	notes, err := c.generate(ctx, NotesPrompt(transcript))
	if err != nil {
		c.logger.Warn("Notes generation failed",
			slog.String("model", c.cfg.Model),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("## Error\nCould not connect to Ollama: %v", err)
	}
	return notes
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Response == nil {
		return "Error: Could not parse response.", nil
	}
	return *payload.Response, nil
}
