package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"docsearch/internal/domain"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

const (
	maxFragmentRunes = 500
	neutralScore     = 5.0
	maxScore         = 10.0
)

const rerankSystemPrompt = `Sos un experto en ingeniería estructural. Evaluá qué tan relevante es cada fragmento para la consulta del usuario.

Asigná a cada fragmento un puntaje de 0 a 10:
- 10: responde directamente la consulta
- 7-9: muy relevante, con información útil
- 4-6: parcialmente relevante
- 1-3: poco relevante
- 0: irrelevante

Respondé SOLO con un JSON array de números con los puntajes en orden. Ejemplo: [8, 3, 10, 5, 1]`

var (
	scoreArray   = regexp.MustCompile(`\[[\d\s,. ]+\]`)
	scoreNumbers = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var (
	_ port.Reranker = (*LLMReranker)(nil)
	_ port.Reranker = NoOpReranker{}
)

// LLMReranker asks a chat model to score every candidate against the query
// and keeps the best topN.
type LLMReranker struct {
	llm     port.LLM
	timeout time.Duration
	logger  *slog.Logger
}

func NewLLMReranker(llm port.LLM, timeout time.Duration, logger *slog.Logger) *LLMReranker {
	return &LLMReranker{llm: llm, timeout: timeout, logger: logging.OrDefault(logger)}
}

// Rerank skips the model entirely when there is nothing to cut. On failure
// the candidates keep their order and are truncated to topN.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []domain.SearchResult, topN int) domain.Outcome[[]domain.SearchResult] {
	if len(candidates) <= topN {
		return domain.Success(candidates)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	reply, err := r.llm.Complete(ctx, rerankSystemPrompt, rerankPrompt(query, candidates))
	if err != nil {
		r.logger.Warn("rerank failed, keeping retrieval order", slog.String("error", err.Error()))
		return domain.Fallback(candidates[:topN], err)
	}

	scores := parseScores(reply, len(candidates))
	type scored struct {
		result domain.SearchResult
		score  float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		s := 0.0
		if i < len(scores) {
			s = scores[i]
		}
		ranked[i] = scored{result: c, score: s}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]domain.SearchResult, topN)
	for i := range out {
		out[i] = ranked[i].result
	}
	return domain.Success(out)
}

func rerankPrompt(query string, candidates []domain.SearchResult) string {
	fragments := make([]string, len(candidates))
	for i, c := range candidates {
		text := c.Content
		if runes := []rune(text); len(runes) > maxFragmentRunes {
			text = string(runes[:maxFragmentRunes]) + "..."
		}
		fragments[i] = fmt.Sprintf("[%d] %s", i+1, text)
	}
	return fmt.Sprintf("Consulta: %q\n\nFragmentos:\n%s\n\nScores (JSON array de %d números):",
		query, strings.Join(fragments, "\n\n"), len(candidates))
}

// parseScores reads a score list from a model reply. It tries a bracketed
// JSON array first, then any numbers in the text, and finally gives every
// candidate the neutral score. Scores are clamped to [0, 10].
func parseScores(reply string, n int) []float64 {
	if m := scoreArray.FindString(reply); m != "" {
		var parsed []float64
		if err := json.Unmarshal([]byte(m), &parsed); err == nil {
			return clampScores(parsed)
		}
	}

	if nums := scoreNumbers.FindAllString(reply, -1); len(nums) > 0 {
		parsed := make([]float64, 0, len(nums))
		for _, s := range nums {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				parsed = append(parsed, v)
			}
		}
		return clampScores(parsed)
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = neutralScore
	}
	return scores
}

func clampScores(scores []float64) []float64 {
	for i, s := range scores {
		scores[i] = min(maxScore, max(0, s))
	}
	return scores
}

// NoOpReranker keeps the retrieval order.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []domain.SearchResult, topN int) domain.Outcome[[]domain.SearchResult] {
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return domain.Success(candidates)
}
