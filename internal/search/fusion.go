// Package search implements the hybrid retrieval engine: two independent
// ranked sub-searches (vector similarity and lexical relevance) merged with
// Reciprocal Rank Fusion.
//
// RRF scores by rank position only, never by raw score, so the incompatible
// scales of cosine similarity and ts_rank_cd are never compared directly.
package search

import (
	"sort"

	"github.com/google/uuid"

	"github.com/quarryhq/quarry/internal/content"
)

// rrfK is the RRF smoothing constant. Fixed, not configurable: every caller
// must fuse identically or scores stop being comparable across callers.
const rrfK = 60

// sentinelRank stands in for "absent from this sub-search". 1/(60+999)
// contributes almost nothing, so a single-list hit at rank r always scores
// strictly below a both-lists hit at the same rank.
const sentinelRank = 999

// MatchType labels which sub-searches produced a result.
type MatchType string

const (
	MatchHybrid  MatchType = "hybrid"
	MatchVector  MatchType = "vector"
	MatchKeyword MatchType = "keyword"
)

// Result is one fused search hit.
type Result struct {
	Chunk      content.Chunk
	RRFScore   float64
	Similarity float64 // cosine similarity when present in the vector list
	MatchType  MatchType
}

// fuse merges the two ranked sub-search lists into a single list ordered by
// descending RRF score, truncated to limit. Ties break on ascending chunk ID
// for determinism. Duplicate chunks cannot occur: the union is keyed by
// chunk identity.
func fuse(vector, text []content.Ranked, limit int) []Result {
	union := make(map[uuid.UUID]*Result, len(vector)+len(text))

	vectorRanks := make(map[uuid.UUID]int, len(vector))
	for _, r := range vector {
		vectorRanks[r.Chunk.ID] = r.Rank
		union[r.Chunk.ID] = &Result{Chunk: r.Chunk, Similarity: r.Similarity}
	}

	textRanks := make(map[uuid.UUID]int, len(text))
	for _, r := range text {
		textRanks[r.Chunk.ID] = r.Rank
		if _, ok := union[r.Chunk.ID]; !ok {
			union[r.Chunk.ID] = &Result{Chunk: r.Chunk}
		}
	}

	results := make([]Result, 0, len(union))
	for id, r := range union {
		vRank, inVector := vectorRanks[id]
		tRank, inText := textRanks[id]

		if !inVector {
			vRank = sentinelRank
		}
		if !inText {
			tRank = sentinelRank
		}

		r.RRFScore = 1.0/float64(rrfK+vRank) + 1.0/float64(rrfK+tRank)

		switch {
		case inVector && inText:
			r.MatchType = MatchHybrid
		case inVector:
			r.MatchType = MatchVector
		default:
			r.MatchType = MatchKeyword
		}

		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}

		return results[i].Chunk.ID.String() < results[j].Chunk.ID.String()
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results
}
