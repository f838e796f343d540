// Package retrieval ranks registry tools against free-text queries using
// TF-IDF cosine similarity, down-weighted by governance posture so blocked
// tools sink below allowed ones.
package retrieval

import (
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/revittco/toolgate/internal/policy"
	"github.com/revittco/toolgate/internal/registry"
)

// DefaultTopK is the result cap when the caller does not specify one.
const DefaultTopK = 8

// Governance penalties multiply raw scores by (1 - penalty).
const (
	penaltyAllow           = 0.0
	penaltyRequireApproval = 0.20
	penaltyBlock           = 0.80
)

// snapshot is one immutable build of the index. Rebuilds swap the whole
// snapshot atomically; readers never lock.
type snapshot struct {
	emb     *embedder
	vectors map[string]map[string]float64 // tool_id -> embedding
}

// Index ranks tools for a registry. Built lazily on first search.
type Index struct {
	reg   *registry.Registry
	snap  atomic.Pointer[snapshot]
	group singleflight.Group
}

// NewIndex creates an index over the registry. No work happens until the
// first Search or an explicit Rebuild.
func NewIndex(reg *registry.Registry) *Index {
	return &Index{reg: reg}
}

// Rebuild constructs a fresh snapshot from the current registry contents
// and swaps it in.
func (ix *Index) Rebuild() {
	records := ix.reg.GetAll()
	docs := make([][]string, len(records))
	for i, rec := range records {
		docs[i] = document(rec.Description, rec.DescriptionFull, rec.Tags)
	}

	emb := newEmbedder(docs)
	vectors := make(map[string]map[string]float64, len(records))
	for i, rec := range records {
		vectors[rec.ToolID] = emb.embed(docs[i])
	}
	ix.snap.Store(&snapshot{emb: emb, vectors: vectors})
}

func (ix *Index) snapshot() *snapshot {
	if s := ix.snap.Load(); s != nil {
		return s
	}
	ix.group.Do("build", func() (any, error) {
		if ix.snap.Load() == nil {
			ix.Rebuild()
		}
		return nil, nil
	})
	return ix.snap.Load()
}

// Search ranks tools for the query under the given governance mode. Scores
// are cosine similarity in [0, 1] scaled by the governance penalty;
// candidates carry their allowed_in_mode annotation. Ties break by tool id
// for determinism. An empty or whitespace query returns nothing.
func (ix *Index) Search(query string, mode policy.Mode, topK int) []registry.ToolCandidate {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	s := ix.snapshot()
	if s == nil || s.emb.docs == 0 {
		return nil
	}

	qvec := s.emb.embed(tokenize(query))
	if qvec == nil {
		return nil
	}

	var out []registry.ToolCandidate
	for _, rec := range ix.reg.GetAll() {
		vec := s.vectors[rec.ToolID]
		if vec == nil {
			continue
		}
		raw := cosine(qvec, vec)
		if raw <= 0 {
			continue
		}

		decision := policy.Evaluate(mode, rec.Risk, rec.ToolID)
		cand := rec.Candidate()
		switch decision.Action {
		case policy.Allow:
			cand.AllowedInMode = registry.Allowed
			cand.Relevance = raw * (1 - penaltyAllow)
		case policy.RequireApproval:
			cand.AllowedInMode = registry.RequiresApproval
			cand.Relevance = raw * (1 - penaltyRequireApproval)
		case policy.Block:
			cand.AllowedInMode = registry.Blocked
			cand.Relevance = raw * (1 - penaltyBlock)
		}
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].ToolID < out[j].ToolID
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
