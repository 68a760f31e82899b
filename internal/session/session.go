// Package session keeps the per-conversation dialogue state behind a
// pluggable Store.
package session

import (
	"context"
	"errors"

	"smartsmeta.app/bot/internal/estimate"
)

type Phase string

const (
	PhaseAwaitingBrief Phase = "awaiting_brief"
	PhaseInDialog      Phase = "in_dialog"
	PhaseRefining      Phase = "refining"
	PhaseEnded         Phase = "ended"
)

var ErrUnknownBackend = errors.New("unknown session backend")

// State is everything remembered about one conversation. Rates is nil
// unless the user overrode the defaults.
type State struct {
	Phase      Phase          `json:"phase"`
	LastTurnID string         `json:"last_turn_id,omitempty"`
	Rates      estimate.Rates `json:"rates,omitempty"`
}

// New returns the state of a conversation that has not started.
func New() State {
	return State{Phase: PhaseAwaitingBrief}
}

func (s State) EffectiveRates(defaults estimate.Rates) estimate.Rates {
	if len(s.Rates) > 0 {
		return s.Rates
	}
	return defaults
}

// Store persists State by session key. Load returns New() for unknown keys.
type Store interface {
	Load(ctx context.Context, key string) (State, error)
	Save(ctx context.Context, key string, state State) error
	Delete(ctx context.Context, key string) error
}

func normalize(s State) State {
	if s.Phase == "" {
		s.Phase = PhaseAwaitingBrief
	}
	return s
}
