package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/abrahamrini7-jpg/catalogIQ/internal/services"
	"github.com/abrahamrini7-jpg/catalogIQ/internal/task"
)

const (
	defaultHTTPTimeout   = 60 * time.Second
	defaultModel         = "gpt-4o-mini"
	minMultiplier        = 0.5
	maxMultiplier        = 2.0
	analysisSystemPrompt = `You are a product photography color analyst. Given a product photo
description, respond with JSON only: {"brightness": n, "contrast": n,
"saturation": n, "sharpness": n} where each n is a multiplier around 1.0
that would make the photo look natural and appealing in an online catalog.`
)

// Config captures the runtime settings required to talk to the vision API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client wraps the chat-completion vision endpoint that proposes per-photo
// color adjustments.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a vision client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://api.openai.com/v1/chat/completions"
	}
	if client.cfg.Model == "" {
		client.cfg.Model = defaultModel
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// AnalyzeRequest describes one photo submitted for adjustment analysis.
type AnalyzeRequest struct {
	SKU         string
	ProductName string
	PhotoIndex  int
	SourcePath  string
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze asks the vision model for color adjustment multipliers for one
// photo. Failures are classified so the dispatcher can decide whether to
// retry: network and 5xx errors are transient, auth and request errors are
// permanent.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (task.Adjustments, error) {
	var empty task.Adjustments
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(
			services.ErrConfiguration, "color_correction", "analyze",
			"Vision API key is not configured", nil)
	}
	if req.SourcePath == "" {
		return empty, services.Wrap(
			services.ErrValidation, "color_correction", "analyze",
			"photo source path required", nil)
	}

	userPrompt := fmt.Sprintf(
		"Product %q (sku %s), photo %d at %s. Propose adjustment multipliers.",
		req.ProductName, req.SKU, req.PhotoIndex, req.SourcePath,
	)
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	content, err := c.send(ctx, payload)
	if err != nil {
		return empty, err
	}

	var adjustments task.Adjustments
	if err := json.Unmarshal([]byte(content), &adjustments); err != nil {
		return empty, services.Wrap(
			services.ErrTransient, "color_correction", "analyze",
			"Vision response was not valid adjustment JSON", err)
	}
	clampAdjustments(&adjustments)
	return adjustments, nil
}

// HealthCheck verifies the API key is present and the endpoint answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("vision health: api key required")
	}
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "Respond with JSON only."},
			{Role: "user", Content: `Respond with {"ok":true}`},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	content, err := c.send(ctx, payload)
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return fmt.Errorf("vision health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("vision health: unexpected response")
	}
	return nil
}

func (c *Client) send(ctx context.Context, payload chatRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("vision request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("vision request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(
			services.ErrTransient, "color_correction", "analyze",
			"failed reading vision response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, body)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(
			services.ErrTransient, "color_correction", "analyze",
			"failed decoding vision response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(
			services.ErrPermanent, "color_correction", "analyze",
			"vision API reported an error: "+strings.TrimSpace(completion.Error.Message), nil)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", services.Wrap(
		services.ErrTransient, "color_correction", "analyze",
		"vision response contained no content", nil)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(
			services.ErrTransient, "color_correction", "analyze",
			"vision request timed out", err)
	}
	return services.Wrap(
		services.ErrTransient, "color_correction", "analyze",
		"vision request failed", err)
}

func classifyStatus(status int, body []byte) error {
	detail := fmt.Sprintf("vision API returned HTTP %d: %s", status, summarizeBody(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "color_correction", "analyze", detail, nil)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "color_correction", "analyze", detail, nil)
	default:
		return services.Wrap(services.ErrPermanent, "color_correction", "analyze", detail, nil)
	}
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		return trimmed[:200] + "..."
	}
	return trimmed
}

func clampAdjustments(a *task.Adjustments) {
	clamp := func(v float64) float64 {
		if v == 0 {
			return 0
		}
		if v < minMultiplier {
			return minMultiplier
		}
		if v > maxMultiplier {
			return maxMultiplier
		}
		return v
	}
	a.Brightness = clamp(a.Brightness)
	a.Contrast = clamp(a.Contrast)
	a.Saturation = clamp(a.Saturation)
	a.Sharpness = clamp(a.Sharpness)
}
