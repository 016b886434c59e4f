package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/quivermind/mnemo/internal/fault"
)

// Handoff is a consumed-once message between components of one session.
type Handoff struct {
	SessionID string                 `json:"session_id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

func handoffPrefix(session, to string) string {
	return fmt.Sprintf("handoff:%s:%s:", session, to)
}

// WriteHandoff posts a note for another component. It waits at most the
// handoff window to be consumed, then evaporates.
func (s *Store) WriteHandoff(ctx context.Context, h *Handoff) error {
	if h.SessionID == "" || h.To == "" {
		return fault.Validation("handoff needs a session and a recipient")
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	key := handoffPrefix(h.SessionID, h.To) + h.Type + ":" + uuid.New().String()
	if err := s.ttl.Put(ctx, key, raw, HandoffTTL); err != nil {
		return fmt.Errorf("write handoff: %w", err)
	}
	return nil
}

// ConsumeHandoff atomically takes one pending note addressed to the
// recipient, optionally filtered by type. Exactly one of any set of
// racing consumers observes a given note; the rest get ErrNotFound.
func (s *Store) ConsumeHandoff(ctx context.Context, session, to, handoffType string) (*Handoff, error) {
	keys, err := s.ttl.Keys(ctx, handoffPrefix(session, to))
	if err != nil {
		return nil, fmt.Errorf("consume handoff: %w", err)
	}
	for _, k := range keys {
		if handoffType != "" && !strings.HasPrefix(k, handoffPrefix(session, to)+handoffType+":") {
			continue
		}
		raw, err := s.ttl.GetDelete(ctx, k)
		if err != nil {
			// Another consumer won this key; try the next.
			if fault.IsAbsent(err) {
				continue
			}
			return nil, err
		}
		var h Handoff
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("decode handoff: %w", err)
		}
		return &h, nil
	}
	return nil, fault.ErrNotFound
}

// PeekHandoffs lists pending notes without consuming them. Display only;
// workflow logic must use ConsumeHandoff.
func (s *Store) PeekHandoffs(ctx context.Context, session, to string) ([]*Handoff, error) {
	keys, err := s.ttl.Keys(ctx, handoffPrefix(session, to))
	if err != nil {
		return nil, fmt.Errorf("peek handoffs: %w", err)
	}
	var out []*Handoff
	for _, k := range keys {
		raw, err := s.ttl.Get(ctx, k)
		if err != nil {
			if fault.IsAbsent(err) {
				continue
			}
			return nil, err
		}
		var h Handoff
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("decode handoff: %w", err)
		}
		out = append(out, &h)
	}
	return out, nil
}
