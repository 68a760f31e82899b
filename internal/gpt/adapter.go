// Package gpt exchanges one conversation turn with the model service.
package gpt

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"smartsmeta.app/bot/common/llm"
	"smartsmeta.app/bot/common/logger"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/extract"
)

// Exchanger sends one user message in the conversation identified by
// priorTurnID (empty to start one) and returns the decoded reply with the
// identity of the new turn.
type Exchanger interface {
	Exchange(ctx context.Context, systemPrompt, userMessage, priorTurnID string) (*estimate.TurnResult, string, error)
}

type Adapter struct {
	client llm.Client
}

var _ Exchanger = (*Adapter)(nil)

func NewAdapter(client llm.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Exchange(ctx context.Context, systemPrompt, userMessage, priorTurnID string) (*estimate.TurnResult, string, error) {
	sc := logger.StartSpan(ctx, "gpt.exchange", trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = sc.Context()

	prev := priorTurnID
	if prev == "" {
		prev = "none"
	}
	slog.InfoContext(ctx, "gpt request",
		"model", a.client.Model(),
		"prev_id", prev,
		"user_message", logger.Truncate(userMessage, 200))

	resp, err := a.client.Respond(ctx, llm.Request{
		Instructions:       systemPrompt,
		Input:              userMessage,
		PreviousResponseID: priorTurnID,
	})
	if err != nil {
		sc.RecordError(err)
		return nil, "", &UpstreamError{Err: err, Retryable: llm.IsRetryable(ctx, err)}
	}

	sc.SetAttributes(attribute.String("gpt.response_id", resp.ID))
	slog.InfoContext(ctx, "gpt response",
		"id", resp.ID,
		"length", len(resp.Text),
		"text", logger.Truncate(resp.Text, 500))

	tree, strategy, err := extract.Extract(resp.Text)
	if err != nil {
		sc.RecordError(err)
		return nil, resp.ID, &ProtocolError{TurnID: resp.ID, Err: err}
	}

	turn, err := estimate.DecodeTurn(tree)
	if err != nil {
		sc.RecordError(err)
		return nil, resp.ID, &ProtocolError{TurnID: resp.ID, Err: err}
	}

	for _, anomaly := range estimate.Anomalies(turn) {
		slog.WarnContext(ctx, "gpt turn anomaly", "id", resp.ID, "anomaly", anomaly)
	}

	slog.InfoContext(ctx, "gpt parsed",
		"status", turn.Status,
		"questions", len(turn.Questions),
		"strategy", strategy)

	return turn, resp.ID, nil
}
