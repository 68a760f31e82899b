// Package dialogue drives one estimate conversation: it threads turn
// identities through the model, routes replies by status and hands
// finished estimates to the renderers.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smartsmeta.app/bot/common/logger"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/gpt"
	"smartsmeta.app/bot/internal/prompt"
	"smartsmeta.app/bot/internal/render"
	"smartsmeta.app/bot/internal/session"
)

const DefaultKeepAlive = 4 * time.Second

// Replier is the outbound side of the chat transport for one session.
type Replier interface {
	SendText(ctx context.Context, text string) error
	SendDocument(ctx context.Context, artifact render.Artifact) error
	Typing(ctx context.Context) error
}

type Config struct {
	Store        session.Store
	Exchanger    gpt.Exchanger
	Renderers    []render.Renderer
	DefaultRates estimate.Rates
	KeepAlive    time.Duration
	Version      string
}

// Machine is safe for concurrent use across sessions. Calls for the same
// session key must be serialised by the caller.
type Machine struct {
	store        session.Store
	exchanger    gpt.Exchanger
	renderers    []render.Renderer
	defaultRates estimate.Rates
	keepAlive    time.Duration
	version      string
}

func New(cfg Config) *Machine {
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Machine{
		store:        cfg.Store,
		exchanger:    cfg.Exchanger,
		renderers:    cfg.Renderers,
		defaultRates: cfg.DefaultRates,
		keepAlive:    keepAlive,
		version:      cfg.Version,
	}
}

// HandleMessage runs one transition for a free-text message.
func (m *Machine) HandleMessage(ctx context.Context, key, text string, r Replier) error {
	state, err := m.store.Load(ctx, key)
	if err != nil {
		m.notify(ctx, r, internalText)
		return fmt.Errorf("loading session: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionKey: logger.Ptr(key),
		Phase:      logger.Ptr(string(state.Phase)),
		Component:  "smeta.dialogue",
	})

	if state.Phase == session.PhaseEnded {
		slog.InfoContext(ctx, "message ignored in ended session")
		m.notify(ctx, r, endedText)
		return nil
	}

	rates := state.EffectiveRates(m.defaultRates)
	slog.InfoContext(ctx, "dialogue turn",
		"prev_id", state.LastTurnID,
		"length", len(text),
		"text", logger.Truncate(text, 300))

	// A brief always opens a fresh thread, even after a rejected first reply.
	priorTurnID := state.LastTurnID
	if state.Phase == session.PhaseAwaitingBrief {
		priorTurnID = ""
	}

	turn, turnID, err := m.exchange(ctx, r, prompt.Build(rates), text, priorTurnID)
	if err != nil {
		var protoErr *gpt.ProtocolError
		if !errors.As(err, &protoErr) {
			slog.ErrorContext(ctx, "model exchange failed", "error", err)
			var upErr *gpt.UpstreamError
			if errors.As(err, &upErr) && !upErr.Retryable {
				m.notify(ctx, r, rejectedText)
				return nil
			}
			m.notify(ctx, r, upstreamText)
			return nil
		}

		slog.WarnContext(ctx, "model reply rejected", "error", err)
		if turnID != "" {
			state.LastTurnID = turnID
			if err := m.store.Save(ctx, key, state); err != nil {
				m.notify(ctx, r, internalText)
				return fmt.Errorf("saving session: %w", err)
			}
		}
		m.notify(ctx, r, unexpectedText)
		return nil
	}

	state.LastTurnID = turnID
	ctx = logger.WithLogFields(ctx, logger.LogFields{TurnID: logger.Ptr(turnID)})

	switch {
	case turn.Status == estimate.StatusNeedInfo:
		state.Phase = session.PhaseInDialog
	case turn.Status == estimate.StatusReady && turn.Result != nil:
		state.Phase = session.PhaseRefining
	default:
		state.Phase = session.PhaseInDialog
	}

	if err := m.store.Save(ctx, key, state); err != nil {
		m.notify(ctx, r, internalText)
		return fmt.Errorf("saving session: %w", err)
	}

	switch {
	case turn.Status == estimate.StatusNeedInfo:
		slog.InfoContext(ctx, "model asked questions", "count", len(turn.Questions))
		m.notify(ctx, r, questionsText(turn.Questions))
	case turn.Status == estimate.StatusReady && turn.Result != nil:
		slog.InfoContext(ctx, "model returned estimate",
			"project", turn.Result.ProjectName,
			"variants", len(turn.Result.Variants))
		m.deliver(ctx, r, turn.Result, rates)
	default:
		slog.WarnContext(ctx, "unexpected model status",
			"status", turn.Status,
			"has_result", turn.Result != nil)
		m.notify(ctx, r, unexpectedText)
	}
	return nil
}

// exchange calls the model while a keep-alive loop shows the typing
// indicator. The loop has stopped by the time exchange returns.
func (m *Machine) exchange(ctx context.Context, r Replier, systemPrompt, text, priorTurnID string) (*estimate.TurnResult, string, error) {
	stop := m.startKeepAlive(ctx, r)
	defer stop()
	return m.exchanger.Exchange(ctx, systemPrompt, text, priorTurnID)
}

func (m *Machine) startKeepAlive(ctx context.Context, r Replier) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.keepAlive)
		defer ticker.Stop()

		for {
			if err := r.Typing(ctx); err != nil && ctx.Err() == nil {
				slog.DebugContext(ctx, "typing indicator failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (m *Machine) deliver(ctx context.Context, r Replier, result *estimate.EstimateResult, rates estimate.Rates) {
	m.notify(ctx, r, generatingText)

	artifacts, err := render.RenderAll(ctx, m.renderers, result, rates)
	if err != nil {
		slog.ErrorContext(ctx, "no documents rendered", "error", err)
		m.notify(ctx, r, renderFailText)
		return
	}

	sent := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if err := r.SendDocument(ctx, a); err != nil {
			slog.ErrorContext(ctx, "document delivery failed", "format", a.Format, "error", err)
			continue
		}
		sent = append(sent, a.Format)
	}
	if len(sent) == 0 {
		m.notify(ctx, r, renderFailText)
		return
	}

	slog.InfoContext(ctx, "documents sent",
		"project", result.ProjectName,
		"formats", strings.Join(sent, ","))
	m.notify(ctx, r, deliveredText)
}

// notify sends best effort; the session state is already settled.
func (m *Machine) notify(ctx context.Context, r Replier, text string) {
	if err := r.SendText(ctx, text); err != nil {
		slog.ErrorContext(ctx, "reply failed", "error", err)
	}
}

func (m *Machine) formats() []string {
	out := make([]string, len(m.renderers))
	for i, r := range m.renderers {
		out[i] = r.Format()
	}
	return out
}
