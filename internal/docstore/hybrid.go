package docstore

import (
	"context"

	"go.uber.org/zap"
)

// pointsCollection is the single Qdrant collection holding every embedded
// document; scoping happens through payload filters.
const pointsCollection = "mnemo_docs"

// Hybrid is the production Store: Postgres for documents and lexical
// ranking, Qdrant for the vector-ranked list. Writes mirror embeddings
// into Qdrant; a mirror failure degrades the record to lexical-only
// retrieval rather than failing the write.
type Hybrid struct {
	*Postgres
	vec    *Qdrant
	logger *zap.Logger
}

// NewHybrid wires the two backends and ensures the points collection.
func NewHybrid(ctx context.Context, pg *Postgres, vec *Qdrant, dimension uint64, logger *zap.Logger) (*Hybrid, error) {
	if err := vec.EnsureCollection(ctx, pointsCollection, dimension); err != nil {
		return nil, err
	}
	return &Hybrid{Postgres: pg, vec: vec, logger: logger}, nil
}

func (s *Hybrid) mirror(ctx context.Context, doc *Document) {
	if len(doc.Embedding) == 0 {
		return
	}
	err := s.vec.Upsert(ctx, pointsCollection, doc.ID, doc.Embedding, map[string]string{
		"collection": doc.Collection,
		"owner_id":   doc.OwnerID,
	})
	if err != nil {
		s.logger.Warn("vector mirror failed, record stays lexical-only",
			zap.String("id", doc.ID), zap.Error(err))
	}
}

func (s *Hybrid) Insert(ctx context.Context, doc *Document) error {
	if err := s.Postgres.Insert(ctx, doc); err != nil {
		return err
	}
	s.mirror(ctx, doc)
	return nil
}

func (s *Hybrid) Upsert(ctx context.Context, doc *Document) (*Document, error) {
	stored, err := s.Postgres.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.mirror(ctx, stored)
	return stored, nil
}

func (s *Hybrid) Update(ctx context.Context, doc *Document) error {
	if err := s.Postgres.Update(ctx, doc); err != nil {
		return err
	}
	s.mirror(ctx, doc)
	return nil
}

func (s *Hybrid) Delete(ctx context.Context, f Filter) (int, error) {
	docs, err := s.Postgres.Find(ctx, f, Sort{}, 0)
	if err != nil {
		return 0, err
	}
	n, err := s.Postgres.Delete(ctx, f)
	if err != nil {
		return n, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if len(d.Embedding) > 0 {
			ids = append(ids, d.ID)
		}
	}
	if err := s.vec.Delete(ctx, pointsCollection, ids); err != nil {
		s.logger.Warn("vector delete failed", zap.Error(err))
	}
	return n, nil
}

// HybridSearch fuses the Postgres lexical list with the Qdrant vector
// list. Either side may come back empty; records without embeddings can
// only surface through the lexical list.
func (s *Hybrid) HybridSearch(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	lexical, err := s.lexicalSearch(ctx, q)
	if err != nil {
		return nil, err
	}

	var vector []scored
	if len(q.Embedding) > 0 {
		limit := q.Limit
		if limit <= 0 {
			limit = 20
		}
		hits, err := s.vec.Search(ctx, pointsCollection, q.Embedding, map[string]string{
			"collection": q.Collection,
			"owner_id":   q.OwnerID,
		}, uint64(limit))
		if err != nil {
			s.logger.Warn("vector search failed, lexical-only", zap.Error(err))
		} else if len(hits) > 0 {
			vector, err = s.resolveHits(ctx, q, hits)
			if err != nil {
				return nil, err
			}
		}
	}

	vecW, lexW := q.weights()
	return fuse(lexical, vector, lexW, vecW, q.Limit), nil
}

// resolveHits loads the documents behind vector hits from Postgres,
// dropping ids whose rows have since been deleted.
func (s *Hybrid) resolveHits(ctx context.Context, q SearchQuery, hits []VectorHit) ([]scored, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := s.Postgres.Find(ctx, Filter{
		Collection: q.Collection,
		OwnerID:    q.OwnerID,
		IDs:        ids,
	}, Sort{}, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	var out []scored
	for _, h := range hits {
		if d, ok := byID[h.ID]; ok {
			out = append(out, scored{doc: d, score: float64(h.Score)})
		}
	}
	return out, nil
}
