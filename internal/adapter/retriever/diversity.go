package retriever

import (
	"docsearch/internal/domain"
	"docsearch/internal/port"
)

// DefaultMaxPerSource is how many results one source may contribute before
// the rest of its results are held back.
const DefaultMaxPerSource = 2

var _ port.DiversityFilter = SourceDiversity{}

// SourceDiversity is a port.DiversityFilter over EnforceSourceDiversity.
type SourceDiversity struct {
	MaxPerSource int
}

func (d SourceDiversity) Diversify(results []domain.SearchResult, limit int) []domain.SearchResult {
	return EnforceSourceDiversity(results, limit, d.MaxPerSource)
}

// EnforceSourceDiversity keeps result order but admits at most maxPerSource
// results per source. If that leaves fewer than limit results, held-back
// results fill the gap in their original order. A non-positive maxPerSource
// disables the cap.
func EnforceSourceDiversity(results []domain.SearchResult, limit, maxPerSource int) []domain.SearchResult {
	if limit <= 0 {
		return nil
	}
	if maxPerSource <= 0 {
		if len(results) > limit {
			return results[:limit]
		}
		return results
	}

	counts := make(map[string]int)
	diverse := make([]domain.SearchResult, 0, limit)
	var overflow []domain.SearchResult

	for _, r := range results {
		source := r.Metadata.Source
		if counts[source] < maxPerSource {
			diverse = append(diverse, r)
			counts[source]++
		} else {
			overflow = append(overflow, r)
		}
		if len(diverse) >= limit {
			break
		}
	}

	for _, r := range overflow {
		if len(diverse) >= limit {
			break
		}
		diverse = append(diverse, r)
	}
	return diverse
}
