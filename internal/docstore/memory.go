package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quivermind/mnemo/internal/fault"
)

// Memory is an in-process Store. It backs unit tests and embedded runs and
// carries the same contract as the Postgres/Qdrant implementation,
// including revision compare-and-swap and hybrid ranking.
type Memory struct {
	mu   sync.Mutex
	docs map[string]*Document
	now  func() time.Time
}

// NewMemory returns an empty in-process document store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]*Document),
		now:  time.Now,
	}
}

// SetClock replaces the time source for tests.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func cloneDoc(d *Document) *Document {
	cp := *d
	cp.Body = make(map[string]interface{}, len(d.Body))
	for k, v := range d.Body {
		cp.Body[k] = v
	}
	if d.Embedding != nil {
		cp.Embedding = append([]float32(nil), d.Embedding...)
	}
	if d.ExpiresAt != nil {
		t := *d.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}

func (s *Memory) Insert(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Revision = 1
	s.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (s *Memory) Upsert(_ context.Context, doc *Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, d := range s.docs {
		if d.Collection == doc.Collection && d.OwnerID == doc.OwnerID &&
			doc.Key != "" && d.Key == doc.Key {
			d.Body = doc.Body
			d.Text = doc.Text
			d.Embedding = doc.Embedding
			d.ExpiresAt = doc.ExpiresAt
			d.UpdatedAt = now
			d.Revision++
			return cloneDoc(d), nil
		}
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Revision = 1
	s.docs[doc.ID] = cloneDoc(doc)
	return cloneDoc(doc), nil
}

func (s *Memory) Update(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.docs[doc.ID]
	if !ok {
		return fault.ErrNotFound
	}
	if stored.Revision != doc.Revision {
		return fault.ErrConflict
	}
	stored.Body = doc.Body
	stored.Text = doc.Text
	stored.Embedding = doc.Embedding
	stored.ExpiresAt = doc.ExpiresAt
	stored.UpdatedAt = s.now()
	stored.Revision++
	doc.Revision = stored.Revision
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *Memory) Get(_ context.Context, collection, owner, key string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.Collection == collection && d.OwnerID == owner && d.Key == key {
			return cloneDoc(d), nil
		}
	}
	return nil, fault.ErrNotFound
}

func (s *Memory) matches(d *Document, f Filter) bool {
	if f.Collection != "" && d.Collection != f.Collection {
		return false
	}
	if f.OwnerID != "" && d.OwnerID != f.OwnerID {
		return false
	}
	if f.Key != "" && d.Key != f.Key {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if d.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range f.Equals {
		if d.Body[k] != v {
			return false
		}
	}
	if f.After != nil && !d.CreatedAt.After(*f.After) {
		return false
	}
	if f.Before != nil && !d.CreatedAt.Before(*f.Before) {
		return false
	}
	if f.ExpiresBefore != nil {
		if d.ExpiresAt == nil || !d.ExpiresAt.Before(*f.ExpiresBefore) {
			return false
		}
	}
	return true
}

func (s *Memory) Find(_ context.Context, f Filter, srt Sort, limit int) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Document
	for _, d := range s.docs {
		if s.matches(d, f) {
			out = append(out, cloneDoc(d))
		}
	}
	// Equal timestamps tie-break by ID so a frozen clock still yields a
	// stable order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if srt.CreatedDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Delete(_ context.Context, f Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.docs {
		if s.matches(d, f) {
			delete(s.docs, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) HybridSearch(_ context.Context, q SearchQuery) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Document
	for _, d := range s.docs {
		if s.matches(d, Filter{Collection: q.Collection, OwnerID: q.OwnerID}) {
			candidates = append(candidates, cloneDoc(d))
		}
	}

	var lexical, vector []scored
	if strings.TrimSpace(q.Text) != "" {
		for _, d := range candidates {
			if sc := lexicalScore(q.Text, d.Text); sc > 0 {
				lexical = append(lexical, scored{doc: d, score: sc})
			}
		}
	}
	if len(q.Embedding) > 0 {
		for _, d := range candidates {
			// Records without an embedding stay lexical-only.
			if len(d.Embedding) == 0 {
				continue
			}
			if sc := Cosine(q.Embedding, d.Embedding); sc > 0 {
				vector = append(vector, scored{doc: d, score: sc})
			}
		}
	}

	vecW, lexW := q.weights()
	return fuse(normalize(lexical), vector, lexW, vecW, q.Limit), nil
}
