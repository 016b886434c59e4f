package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/fault"
)

// Preference is one learned or stated fact about the owner.
type Preference struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	TimesUsed  int64     `json:"times_used"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func preferenceFromDoc(d *docstore.Document) *Preference {
	p := &Preference{Key: d.Key, UpdatedAt: d.UpdatedAt}
	if v, ok := d.Body["value"].(string); ok {
		p.Value = v
	}
	if v, ok := d.Body["source"].(string); ok {
		p.Source = v
	}
	p.Confidence = asFloat(d.Body["confidence"])
	p.TimesUsed = asInt(d.Body["times_used"])
	return p
}

// asFloat and asInt tolerate the numeric widening of a JSONB round trip.
func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// RecordPreference inserts or updates the single live preference for
// (owner, key), applying the conflict policy from resolvePreference.
func (s *Store) RecordPreference(ctx context.Context, owner, key, value, source string, confidence float64) error {
	if key == "" {
		return fault.Validation("preference key must not be empty")
	}
	if confidence < 0 || confidence > 1 {
		return fault.Validation("confidence %v outside [0,1]", confidence)
	}

	existing, err := s.docs.Get(ctx, CollectionPreferences, owner, key)
	if err != nil && !fault.IsAbsent(err) {
		return fmt.Errorf("record preference: %w", err)
	}

	if existing != nil {
		old := preferenceFromDoc(existing)
		if !resolveOverwrite(old.Source, old.Confidence, source, confidence) {
			s.logger.Debug("inferred update discarded, explicit fact wins",
				zap.String("owner", owner), zap.String("key", key))
			return nil
		}
	}

	_, err = s.docs.Upsert(ctx, &docstore.Document{
		Collection: CollectionPreferences,
		OwnerID:    owner,
		Key:        key,
		Body: map[string]interface{}{
			"value":      value,
			"source":     source,
			"confidence": confidence,
			"times_used": existingUsage(existing),
		},
		Text: key + " " + value,
	})
	if err != nil {
		return fmt.Errorf("record preference: %w", err)
	}
	return nil
}

func existingUsage(d *docstore.Document) int64 {
	if d == nil {
		return 0
	}
	return asInt(d.Body["times_used"])
}

// GetPreferences returns live preferences at or above the confidence
// floor, highest confidence first. Each returned preference has its usage
// counter bumped.
func (s *Store) GetPreferences(ctx context.Context, owner string, minConfidence float64) ([]*Preference, error) {
	docs, err := s.docs.Find(ctx, docstore.Filter{
		Collection: CollectionPreferences,
		OwnerID:    owner,
	}, docstore.Sort{}, 0)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	var prefs []*Preference
	for _, d := range docs {
		p := preferenceFromDoc(d)
		if p.Confidence < minConfidence {
			continue
		}
		if err := s.bumpCounter(ctx, d, "times_used"); err != nil {
			s.logger.Warn("usage bump failed", zap.String("key", d.Key), zap.Error(err))
		} else {
			p.TimesUsed++
		}
		prefs = append(prefs, p)
	}
	sort.SliceStable(prefs, func(i, j int) bool {
		return prefs[i].Confidence > prefs[j].Confidence
	})
	return prefs, nil
}

// bumpCounter increments one numeric body field under revision
// compare-and-swap, retrying once on a lost race.
func (s *Store) bumpCounter(ctx context.Context, d *docstore.Document, field string) error {
	for attempt := 0; attempt < 2; attempt++ {
		d.Body[field] = asInt(d.Body[field]) + 1
		err := s.docs.Update(ctx, d)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fault.ErrConflict) || attempt == 1 {
			return err
		}
		fresh, err := s.docs.Get(ctx, d.Collection, d.OwnerID, d.Key)
		if err != nil {
			return err
		}
		d = fresh
	}
	return nil
}

// DeletePreference removes the live preference for (owner, key).
func (s *Store) DeletePreference(ctx context.Context, owner, key string) error {
	n, err := s.docs.Delete(ctx, docstore.Filter{
		Collection: CollectionPreferences,
		OwnerID:    owner,
		Key:        key,
	})
	if err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	if n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// KnowledgeEntry is one cached external-knowledge answer.
type KnowledgeEntry struct {
	Fingerprint   string    `json:"fingerprint"`
	Summary       string    `json:"summary"`
	TimesAccessed int64     `json:"times_accessed"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func knowledgeFromDoc(d *docstore.Document) *KnowledgeEntry {
	e := &KnowledgeEntry{Fingerprint: d.Key, Summary: d.Text}
	e.TimesAccessed = asInt(d.Body["times_accessed"])
	if d.ExpiresAt != nil {
		e.ExpiresAt = *d.ExpiresAt
	}
	return e
}

// CacheStore inserts or replaces a cached answer with a fresh freshness
// window.
func (s *Store) CacheStore(ctx context.Context, owner, fingerprint, summary string) error {
	fingerprint = Normalize(fingerprint)
	if fingerprint == "" {
		return fault.Validation("empty cache fingerprint")
	}
	expires := s.now().Add(KnowledgeTTL)
	_, err := s.docs.Upsert(ctx, &docstore.Document{
		Collection: CollectionKnowledge,
		OwnerID:    owner,
		Key:        fingerprint,
		Body:       map[string]interface{}{"times_accessed": int64(0)},
		Text:       summary,
		Embedding:  s.embed(fingerprint + " " + summary),
		ExpiresAt:  &expires,
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// CacheLookup returns a cached answer when an unexpired entry matches the
// query closely enough. An exact fingerprint match always qualifies;
// otherwise the closest entry must clear the similarity floor. A hit bumps
// times_accessed but never extends freshness.
func (s *Store) CacheLookup(ctx context.Context, owner, fingerprint string) (*KnowledgeEntry, error) {
	fingerprint = Normalize(fingerprint)
	now := s.now()

	if d, err := s.docs.Get(ctx, CollectionKnowledge, owner, fingerprint); err == nil {
		if d.ExpiresAt != nil && now.Before(*d.ExpiresAt) {
			return s.cacheHit(ctx, d)
		}
		return nil, fault.ErrExpired
	} else if !fault.IsAbsent(err) {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	query := s.embed(fingerprint)
	if query == nil {
		return nil, fault.ErrNotFound
	}
	docs, err := s.docs.Find(ctx, docstore.Filter{
		Collection: CollectionKnowledge,
		OwnerID:    owner,
	}, docstore.Sort{}, 0)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	var best *docstore.Document
	bestSim := 0.0
	for _, d := range docs {
		if d.ExpiresAt == nil || !now.Before(*d.ExpiresAt) {
			continue
		}
		sim := docstore.Cosine(query, d.Embedding)
		if sim > bestSim {
			best, bestSim = d, sim
		}
	}
	if best == nil || bestSim < CacheSimilarityMin {
		return nil, fault.ErrNotFound
	}
	return s.cacheHit(ctx, best)
}

// PruneExpired deletes knowledge entries whose TTL has passed. Reads
// already skip expired entries; this reclaims the rows.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.docs.Delete(ctx, docstore.Filter{
		Collection:    CollectionKnowledge,
		ExpiresBefore: &now,
	})
	if err != nil {
		return 0, fmt.Errorf("prune expired knowledge: %w", err)
	}
	return n, nil
}

func (s *Store) cacheHit(ctx context.Context, d *docstore.Document) (*KnowledgeEntry, error) {
	entry := knowledgeFromDoc(d)
	if err := s.bumpCounter(ctx, d, "times_accessed"); err != nil {
		s.logger.Warn("cache usage bump failed", zap.Error(err))
	} else {
		entry.TimesAccessed++
	}
	return entry, nil
}
