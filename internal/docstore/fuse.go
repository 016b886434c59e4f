package docstore

import (
	"math"
	"sort"
	"strings"
)

// scored pairs a document with one ranker's normalized score.
type scored struct {
	doc   *Document
	score float64
}

// fuse combines two independently ranked lists by weighted score. Each
// list's scores must already be normalized to [0,1]. Documents present in
// only one list contribute zero from the other. Ties break toward the more
// recently created document.
func fuse(lexical, vector []scored, lexW, vecW float64, limit int) []SearchHit {
	byID := make(map[string]*SearchHit)
	order := make([]string, 0, len(lexical)+len(vector))

	add := func(list []scored, weight float64) {
		for _, s := range list {
			h, ok := byID[s.doc.ID]
			if !ok {
				h = &SearchHit{Doc: s.doc}
				byID[s.doc.ID] = h
				order = append(order, s.doc.ID)
			}
			h.Score += weight * s.score
		}
	}
	add(lexical, lexW)
	add(vector, vecW)

	hits := make([]SearchHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *byID[id])
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Doc.CreatedAt.After(hits[j].Doc.CreatedAt)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// normalize scales raw scores so the best entry in the list is 1.0.
func normalize(list []scored) []scored {
	var max float64
	for _, s := range list {
		if s.score > max {
			max = s.score
		}
	}
	if max <= 0 {
		return list
	}
	out := make([]scored, len(list))
	for i, s := range list {
		out[i] = scored{doc: s.doc, score: s.score / max}
	}
	return out
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lexicalScore is the in-process lexical ranker: token overlap between the
// query and the document text, weighted toward query coverage.
func lexicalScore(query, text string) float64 {
	qTokens := tokenize(query)
	if len(qTokens) == 0 || text == "" {
		return 0
	}
	target := strings.ToLower(text)
	targetSet := make(map[string]bool)
	for _, w := range tokenize(target) {
		targetSet[w] = true
	}

	var matched float64
	for _, q := range qTokens {
		if targetSet[q] {
			matched++
		} else if strings.Contains(target, q) {
			matched += 0.7
		}
	}
	return matched / float64(len(qTokens))
}

// tokenize splits text into lowercase word tokens, dropping single chars.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}
