package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// Client continues or starts a server-side conversation. The provider keeps
// the history; callers thread Response.ID into the next Request.
type Client interface {
	Respond(ctx context.Context, req Request) (*Response, error)
	Model() string
}

type Request struct {
	Instructions       string // system prompt, sent on every turn
	Input              string // user message
	PreviousResponseID string // empty starts a new conversation
}

type Response struct {
	ID           string
	Text         string
	InputTokens  int
	OutputTokens int
}

type client struct {
	openai    openai.Client
	model     string
	maxTokens int
	effort    ReasoningEffort
}

func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-5.2-pro"
	}

	return &client{
		openai:    openai.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
		effort:    cfg.ReasoningEffort,
	}, nil
}

func (c *client) Respond(ctx context.Context, req Request) (*Response, error) {
	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(c.model),
		Instructions: openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.Input),
		},
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(c.maxTokens))
	}
	if c.effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(c.effort)}
	}

	start := time.Now()
	resp, err := c.openai.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses: %w", err)
	}
	if resp == nil {
		return nil, errors.New("openai responses: nil response")
	}
	if resp.Error.Message != "" {
		return nil, fmt.Errorf("openai response error: %s (code=%s)", resp.Error.Message, resp.Error.Code)
	}

	slog.DebugContext(ctx, "llm response completed",
		"model", c.model,
		"response_id", resp.ID,
		"status", resp.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	return &Response{
		ID:           resp.ID,
		Text:         resp.OutputText(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (c *client) Model() string {
	return c.model
}

// IsRetryable reports whether err is worth retrying: rate limits, server
// errors and network failures are; cancellations and 4xx are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited",
				"status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error",
				"status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode,
				"error_type", apiErr.Type,
				"error_code", apiErr.Code)
			return false
		}
	}

	// no API response at all
	slog.WarnContext(ctx, "llm network error", "error", err)
	return true
}
