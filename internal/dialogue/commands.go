package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"smartsmeta.app/bot/common/logger"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/session"
)

// Start forgets everything about the session, rate overrides included.
func (m *Machine) Start(ctx context.Context, key string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "start")

	if err := m.store.Delete(ctx, key); err != nil {
		m.notify(ctx, r, internalText)
		return fmt.Errorf("deleting session: %w", err)
	}
	m.notify(ctx, r, welcomeText+helpText(m.version, m.formats())+startHint)
	return nil
}

// Reset starts a new estimate and keeps rate overrides.
func (m *Machine) Reset(ctx context.Context, key string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "new")

	err := m.update(ctx, key, func(s *session.State) error {
		s.Phase = session.PhaseAwaitingBrief
		s.LastTurnID = ""
		return nil
	})
	if err != nil {
		m.notify(ctx, r, internalText)
		return err
	}
	m.notify(ctx, r, resetText)
	return nil
}

// Cancel ends the conversation; free text is ignored until Reset or Start.
func (m *Machine) Cancel(ctx context.Context, key string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "cancel")

	err := m.update(ctx, key, func(s *session.State) error {
		s.Phase = session.PhaseEnded
		s.LastTurnID = ""
		return nil
	})
	if err != nil {
		m.notify(ctx, r, internalText)
		return err
	}
	m.notify(ctx, r, cancelText)
	return nil
}

func (m *Machine) Help(ctx context.Context, key string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "help")
	m.notify(ctx, r, helpText(m.version, m.formats()))
	return nil
}

func (m *Machine) ShowRates(ctx context.Context, key string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "rates")

	state, err := m.store.Load(ctx, key)
	if err != nil {
		m.notify(ctx, r, internalText)
		return fmt.Errorf("loading session: %w", err)
	}
	m.notify(ctx, r, ratesText(state.EffectiveRates(m.defaultRates)))
	return nil
}

// SetRate handles "/rate <role> <rate>" and "/rate reset". Role names match
// existing roles case-insensitively; unknown roles are added.
func (m *Machine) SetRate(ctx context.Context, key, args string, r Replier) error {
	ctx = commandContext(ctx, key)
	slog.InfoContext(ctx, "command", "name", "rate", "args", logger.Truncate(args, 100))

	fields := strings.Fields(args)
	if len(fields) == 1 && strings.EqualFold(fields[0], "reset") {
		return m.ResetRates(ctx, key, r)
	}
	if len(fields) < 2 {
		m.notify(ctx, r, rateUsageText)
		return nil
	}

	rate, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || rate < 0 {
		m.notify(ctx, r, rateInvalidText)
		return nil
	}
	role := strings.Join(fields[:len(fields)-1], " ")

	err = m.update(ctx, key, func(s *session.State) error {
		current := s.EffectiveRates(m.defaultRates)
		role = canonicalRole(current, role)
		s.Rates = current.With(role, rate)
		return nil
	})
	if err != nil {
		m.notify(ctx, r, internalText)
		return err
	}
	m.notify(ctx, r, rateSetText(role, rate))
	return nil
}

func (m *Machine) ResetRates(ctx context.Context, key string, r Replier) error {
	err := m.update(ctx, key, func(s *session.State) error {
		s.Rates = nil
		return nil
	})
	if err != nil {
		m.notify(ctx, r, internalText)
		return err
	}
	m.notify(ctx, r, ratesResetText)
	return nil
}

func (m *Machine) update(ctx context.Context, key string, fn func(*session.State) error) error {
	state, err := m.store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if err := fn(&state); err != nil {
		return err
	}
	if err := m.store.Save(ctx, key, state); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func canonicalRole(rates estimate.Rates, role string) string {
	for _, r := range rates {
		if strings.EqualFold(r.Role, role) {
			return r.Role
		}
	}
	return role
}

func commandContext(ctx context.Context, key string) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{
		SessionKey: logger.Ptr(key),
		Component:  "smeta.dialogue",
	})
}
