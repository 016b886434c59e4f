package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/quivermind/mnemo/internal/docstore"
)

// EpisodicEvent is one append-only record of something that happened.
type EpisodicEvent struct {
	ID            string                 `json:"id"`
	OwnerID       string                 `json:"owner_id"`
	SessionID     string                 `json:"session_id"`
	ActionType    string                 `json:"action_type"`
	EntityType    string                 `json:"entity_type,omitempty"`
	EntityPayload map[string]interface{} `json:"entity_payload,omitempty"`
	Summary       string                 `json:"summary"`
	Timestamp     time.Time              `json:"timestamp"`
}

func eventFromDoc(d *docstore.Document) *EpisodicEvent {
	ev := &EpisodicEvent{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Summary:   d.Text,
		Timestamp: d.CreatedAt,
	}
	if v, ok := d.Body["session_id"].(string); ok {
		ev.SessionID = v
	}
	if v, ok := d.Body["action_type"].(string); ok {
		ev.ActionType = v
	}
	if v, ok := d.Body["entity_type"].(string); ok {
		ev.EntityType = v
	}
	if v, ok := d.Body["entity_payload"].(map[string]interface{}); ok {
		ev.EntityPayload = v
	}
	return ev
}

// RecordEvent appends one episodic event. Appends for the same owner are
// serialized so storage order matches submission order.
func (s *Store) RecordEvent(ctx context.Context, ev *EpisodicEvent) error {
	mu := s.owners.get(ev.OwnerID)
	mu.Lock()
	defer mu.Unlock()

	doc := &docstore.Document{
		Collection: CollectionEpisodic,
		OwnerID:    ev.OwnerID,
		Body: map[string]interface{}{
			"session_id":  ev.SessionID,
			"action_type": ev.ActionType,
		},
		Text:      ev.Summary,
		Embedding: s.embed(ev.Summary),
	}
	if ev.EntityType != "" {
		doc.Body["entity_type"] = ev.EntityType
	}
	if ev.EntityPayload != nil {
		doc.Body["entity_payload"] = ev.EntityPayload
	}

	if err := s.docs.Insert(ctx, doc); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	ev.ID = doc.ID
	ev.Timestamp = doc.CreatedAt
	return nil
}

// History returns events newest first, optionally bounded by a time range
// and filtered by action type. Deterministic ordering.
func (s *Store) History(ctx context.Context, owner string, from, to *time.Time, actionType string, limit int) ([]*EpisodicEvent, error) {
	f := docstore.Filter{
		Collection: CollectionEpisodic,
		OwnerID:    owner,
		After:      from,
		Before:     to,
	}
	if actionType != "" {
		f.Equals = map[string]interface{}{"action_type": actionType}
	}
	docs, err := s.docs.Find(ctx, f, docstore.Sort{CreatedDesc: true}, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	events := make([]*EpisodicEvent, len(docs))
	for i, d := range docs {
		events[i] = eventFromDoc(d)
	}
	return events, nil
}

// SearchEvents runs hybrid retrieval over the owner's episodic events.
type EventHit struct {
	Event *EpisodicEvent
	Score float64
}

func (s *Store) SearchEvents(ctx context.Context, owner, query string, limit int) ([]EventHit, error) {
	hits, err := s.docs.HybridSearch(ctx, docstore.SearchQuery{
		Collection: CollectionEpisodic,
		OwnerID:    owner,
		Text:       query,
		Embedding:  s.embed(query),
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	out := make([]EventHit, len(hits))
	for i, h := range hits {
		out[i] = EventHit{Event: eventFromDoc(h.Doc), Score: h.Score}
	}
	return out, nil
}
