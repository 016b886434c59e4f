package memory

import (
	"context"
	"fmt"

	"github.com/quivermind/mnemo/internal/fault"
)

// Well-known working slots. Arbitrary slot names are also accepted.
const (
	SlotCurrentProject = "current_project"
	SlotCurrentTask    = "current_task"
	SlotLastAction     = "last_action"
)

func workingKey(owner, session, slot string) string {
	return fmt.Sprintf("working:%s:%s:%s", owner, session, slot)
}

func workingPrefix(owner, session string) string {
	return fmt.Sprintf("working:%s:%s:", owner, session)
}

// SetWorking stores one slot value with the sliding working-window TTL.
func (s *Store) SetWorking(ctx context.Context, owner, session, slot, value string) error {
	if err := s.ttl.Put(ctx, workingKey(owner, session, slot), []byte(value), WorkingTTL); err != nil {
		return fmt.Errorf("working set %s: %w", slot, err)
	}
	return nil
}

// GetWorking reads one slot. A hit slides the expiry window so active
// sessions keep their context.
func (s *Store) GetWorking(ctx context.Context, owner, session, slot string) (string, error) {
	v, err := s.ttl.GetSlide(ctx, workingKey(owner, session, slot), WorkingTTL)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// WorkingSnapshot returns all live slots for a session. Context assembly
// calls this every turn, so the read slides each slot's expiry: a session
// that stays active only through conversation keeps its working context.
func (s *Store) WorkingSnapshot(ctx context.Context, owner, session string) (map[string]string, error) {
	prefix := workingPrefix(owner, session)
	keys, err := s.ttl.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("working snapshot: %w", err)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.ttl.GetSlide(ctx, k, WorkingTTL)
		if err != nil {
			if fault.IsAbsent(err) {
				continue
			}
			return nil, err
		}
		out[k[len(prefix):]] = string(v)
	}
	return out, nil
}

// ClearWorking drops every slot for the session.
func (s *Store) ClearWorking(ctx context.Context, owner, session string) error {
	if err := s.ttl.DeletePrefix(ctx, workingPrefix(owner, session)); err != nil {
		return fmt.Errorf("working clear: %w", err)
	}
	return nil
}
