package retrieval

import (
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// tokenize lowercases the input and extracts [a-z0-9_]+ runs.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// embedder holds the TF-IDF vocabulary built over the registry. The one-line
// description and tags are double-weighted so short, curated text dominates
// long prose.
type embedder struct {
	idf  map[string]float64
	docs int
}

// document flattens one tool's searchable text with field weights applied.
func document(oneLine, full string, tags []string) []string {
	var terms []string
	one := tokenize(oneLine)
	terms = append(terms, one...)
	terms = append(terms, one...)
	terms = append(terms, tokenize(full)...)
	for _, tag := range tags {
		t := tokenize(tag)
		terms = append(terms, t...)
		terms = append(terms, t...)
	}
	return terms
}

// newEmbedder computes smoothed IDF over the documents:
// log((N+1)/(df+1)) + 1, so no term ever scores zero.
func newEmbedder(docs [][]string) *embedder {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((n+1)/(float64(count)+1)) + 1
	}
	return &embedder{idf: idf, docs: len(docs)}
}

// embed converts a term list into an L2-normalized sparse TF-IDF vector.
// Terms outside the vocabulary contribute nothing. Returns nil for a
// zero-magnitude vector.
func (e *embedder) embed(terms []string) map[string]float64 {
	if len(e.idf) == 0 || len(terms) == 0 {
		return nil
	}

	tf := make(map[string]float64)
	for _, term := range terms {
		if _, known := e.idf[term]; known {
			tf[term]++
		}
	}
	if len(tf) == 0 {
		return nil
	}

	var norm float64
	vec := make(map[string]float64, len(tf))
	for term, count := range tf {
		w := count * e.idf[term]
		vec[term] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for term := range vec {
		vec[term] /= norm
	}
	return vec
}

// cosine is the dot product of two normalized sparse vectors.
func cosine(a, b map[string]float64) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	var dot float64
	for term, w := range a {
		dot += w * b[term]
	}
	return dot
}
