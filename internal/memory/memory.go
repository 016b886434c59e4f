// Package memory implements the tiered memory system: working context,
// episodic history, semantic preferences and knowledge cache, procedural
// rules and workflow templates, and session handoff notes.
package memory

import (
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/ttlstore"
)

// Collection names in the durable store.
const (
	CollectionEpisodic    = "episodic"
	CollectionPreferences = "preferences"
	CollectionKnowledge   = "knowledge"
	CollectionRules       = "rules"
	CollectionTemplates   = "templates"
)

// Retention and matching thresholds.
const (
	// WorkingTTL is the sliding window of the working tier: any read or
	// write pushes expiry out again.
	WorkingTTL = 2 * time.Hour

	// HandoffTTL bounds how long a handoff note waits to be consumed.
	HandoffTTL = 5 * time.Minute

	// KnowledgeTTL is the fixed freshness window of cached answers.
	// Reads do not extend it.
	KnowledgeTTL = 7 * 24 * time.Hour

	// MinContextConfidence excludes low-confidence preferences and rules
	// from assembled context.
	MinContextConfidence = 0.5

	// CacheSimilarityMin is the similarity floor for a knowledge cache
	// hit.
	CacheSimilarityMin = 0.65

	// ExplicitGuard is the confidence at or above which an explicit
	// preference cannot be overridden by an inferred one.
	ExplicitGuard = 0.85

	// RecentEpisodics is how many recent events the assembler pulls.
	RecentEpisodics = 5
)

// Sources a preference or rule can come from.
const (
	SourceExplicit = "explicit"
	SourceInferred = "inferred"
)

// Embedder turns text into a vector for hybrid retrieval. Implementations
// that cannot embed return a nil vector and the caller degrades to lexical
// ranking.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Store bundles the tiers over one durable document store and one TTL
// store. All tier operations hang off it.
type Store struct {
	docs     docstore.Store
	ttl      ttlstore.Store
	embedder Embedder
	logger   *zap.Logger

	owners *ownerLocks

	now func() time.Time
}

// NewStore wires the tiers. embedder may be nil; retrieval then runs
// lexical-only.
func NewStore(docs docstore.Store, ttl ttlstore.Store, embedder Embedder, logger *zap.Logger) *Store {
	return &Store{
		docs:     docs,
		ttl:      ttl,
		embedder: embedder,
		logger:   logger,
		owners:   newOwnerLocks(),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// embed is a nil-safe wrapper; embedding failure degrades, never fails
// the write.
func (s *Store) embed(text string) []float32 {
	if s.embedder == nil || text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(text)
	if err != nil {
		s.logger.Warn("embedding failed, storing without vector", zap.Error(err))
		return nil
	}
	return vec
}
