package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quivermind/mnemo/internal/fault"
)

func TestUpsertReplacesByKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	first, err := s.Upsert(ctx, &Document{
		Collection: "preferences", OwnerID: "u1", Key: "theme",
		Body: map[string]interface{}{"value": "dark"},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := s.Upsert(ctx, &Document{
		Collection: "preferences", OwnerID: "u1", Key: "theme",
		Body: map[string]interface{}{"value": "light"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert created a second live record for the same key")
	}
	if second.Revision != first.Revision+1 {
		t.Errorf("revision %d, want %d", second.Revision, first.Revision+1)
	}

	docs, _ := s.Find(ctx, Filter{Collection: "preferences", OwnerID: "u1"}, Sort{}, 0)
	if len(docs) != 1 {
		t.Fatalf("got %d live documents, want 1", len(docs))
	}
	if docs[0].Body["value"] != "light" {
		t.Errorf("value %v, want light", docs[0].Body["value"])
	}
}

func TestUpdateRevisionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	doc := &Document{Collection: "rules", OwnerID: "u1", Key: "r1",
		Body: map[string]interface{}{"confidence": 0.5}}
	if err := s.Insert(ctx, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale := *doc
	doc.Body = map[string]interface{}{"confidence": 0.7}
	if err := s.Update(ctx, doc); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale.Body = map[string]interface{}{"confidence": 0.6}
	if err := s.Update(ctx, &stale); !errors.Is(err, fault.ErrConflict) {
		t.Errorf("stale update: got %v, want ErrConflict", err)
	}
}

func TestHybridSearchFusionWeights(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	// lexOnly matches the query text exactly but has no embedding.
	lexOnly := &Document{Collection: "episodic", OwnerID: "u1",
		Text: "deploy alpha project to staging"}
	// vecOnly has a perfectly aligned embedding but unrelated text.
	vecOnly := &Document{Collection: "episodic", OwnerID: "u1",
		Text: "unrelated gardening notes", Embedding: []float32{1, 0, 0}}
	s.Insert(ctx, lexOnly)
	s.Insert(ctx, vecOnly)

	hits, err := s.HybridSearch(ctx, SearchQuery{
		Collection: "episodic", OwnerID: "u1",
		Text:      "deploy alpha project to staging",
		Embedding: []float32{1, 0, 0},
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}

	// Default weights are 0.6 vector / 0.4 lexical: the vector-perfect
	// record outranks the lexical-perfect one.
	if hits[0].Doc.ID != vecOnly.ID {
		t.Errorf("top hit %s, want vector-matched %s", hits[0].Doc.ID, vecOnly.ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("scores not descending: %f then %f", hits[0].Score, hits[1].Score)
	}
}

func TestHybridSearchRecencyTieBreak(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	clk := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clk })

	older := &Document{Collection: "episodic", OwnerID: "u1", Text: "weekly report sent"}
	s.Insert(ctx, older)
	clk = clk.Add(time.Hour)
	newer := &Document{Collection: "episodic", OwnerID: "u1", Text: "weekly report sent"}
	s.Insert(ctx, newer)

	hits, err := s.HybridSearch(ctx, SearchQuery{
		Collection: "episodic", OwnerID: "u1", Text: "weekly report", Limit: 10,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Doc.ID != newer.ID {
		t.Errorf("tie not broken toward recent document")
	}
}

func TestHybridSearchDegradesToLexicalOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	plain := &Document{Collection: "episodic", OwnerID: "u1",
		Text: "created task review budget"}
	s.Insert(ctx, plain)

	// Vector query over a record without an embedding: lexical ranking
	// still surfaces it.
	hits, err := s.HybridSearch(ctx, SearchQuery{
		Collection: "episodic", OwnerID: "u1",
		Text:      "review budget",
		Embedding: []float32{0.5, 0.5, 0},
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Doc.ID != plain.ID {
		t.Fatalf("embedding-less record excluded from lexical ranking")
	}

	// A pure vector query cannot match it.
	hits, err = s.HybridSearch(ctx, SearchQuery{
		Collection: "episodic", OwnerID: "u1",
		Embedding:  []float32{0.5, 0.5, 0},
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("vector-only search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("vector-only query matched an embedding-less record")
	}
}

func TestFindStableOrderUnderFrozenClock(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	clk := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clk })

	for i := 0; i < 6; i++ {
		s.Insert(ctx, &Document{Collection: "episodic", OwnerID: "u1", Text: "event"})
	}

	first, err := s.Find(ctx, Filter{Collection: "episodic", OwnerID: "u1"}, Sort{CreatedDesc: true}, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := s.Find(ctx, Filter{Collection: "episodic", OwnerID: "u1"}, Sort{CreatedDesc: true}, 0)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		for i := range first {
			if again[i].ID != first[i].ID {
				t.Fatalf("equal-timestamp order changed between reads at index %d", i)
			}
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].ID >= first[i].ID {
			t.Errorf("equal timestamps not tie-broken by id: %s then %s", first[i-1].ID, first[i].ID)
		}
	}
}

func TestFindOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	s.Insert(ctx, &Document{Collection: "episodic", OwnerID: "u1", Text: "a"})
	s.Insert(ctx, &Document{Collection: "episodic", OwnerID: "u2", Text: "b"})

	docs, err := s.Find(ctx, Filter{Collection: "episodic", OwnerID: "u1"}, Sort{}, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0].OwnerID != "u1" {
		t.Errorf("owner scoping leaked records: %v", docs)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: got %f, want 1.0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: got %f, want 0", got)
	}
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Errorf("empty vector: got %f, want 0", got)
	}
}
