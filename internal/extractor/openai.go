// Package extractor calls the OpenAI chat completions API to turn raw
// channel messages into structured candidate records.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/whale-sentinel/internal/whale"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Config holds the OpenAI client settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIExtractor implements whale.Extractor against the chat completions
// endpoint with JSON-object response formatting.
type OpenAIExtractor struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAI constructs an extractor. Zero-valued config fields fall back to
// sane defaults; only the API key is required.
func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAIExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai extractor: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIExtractor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "extractor")),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Extract sends one completion request and decodes the JSON object the
// model returns into a candidate record. Errors carry a retryability class:
// 429 maps to whale.ErrRateLimited, 5xx to whale.ErrTransient, and output
// that fails to decode to whale.ErrMalformedOutput so the caller can re-ask;
// other HTTP failures are permanent.
func (e *OpenAIExtractor) Extract(ctx context.Context, req whale.ExtractionRequest) (*whale.CandidateRecord, error) {
	body := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Instruction},
			{Role: "user", Content: req.Input},
		},
	}
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", whale.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", whale.ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, raw)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("chat completion failed: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var rec whale.CandidateRecord
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &rec); err != nil {
		return nil, fmt.Errorf("%w: decode candidate record: %v", whale.ErrMalformedOutput, err)
	}
	return &rec, nil
}

func classifyStatus(status int, body []byte) error {
	detail := apiErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", whale.ErrRateLimited, detail)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", whale.ErrTransient, status, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", whale.ErrPermanent, status, detail)
	}
}

func apiErrorMessage(body []byte) string {
	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err == nil && chat.Error != nil {
		return chat.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
