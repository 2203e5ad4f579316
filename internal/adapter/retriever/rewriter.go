package retriever

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"docsearch/internal/domain"
	"docsearch/internal/logging"
	"docsearch/internal/port"
)

const rewriteSystemPrompt = `Sos un experto en ingeniería estructural argentina. Reescribí la consulta del usuario para mejorar la búsqueda en documentos técnicos.

Reglas:
- Mantené la consulta CORTA (8 a 12 palabras como máximo), sin oraciones agregadas.
- Expandí solo abreviaturas obvias (por ejemplo "FLT" -> "pandeo lateral torsional").
- No agregues sinónimos ni aclaraciones entre paréntesis.
- Conservá EXACTOS los códigos: secciones, normas, perfiles y unidades (CIRSOC 301, F.2.1, HEB 200, 345 MPa).
- Si la consulta ya es clara, devolvela sin cambios.
- Respondé SOLO con la consulta reescrita.`

var (
	_ port.QueryRewriter = (*LLMRewriter)(nil)
	_ port.QueryRewriter = NoOpRewriter{}
)

// LLMRewriter normalizes a query with a chat model. Any failure falls back
// to the original query.
type LLMRewriter struct {
	llm     port.LLM
	timeout time.Duration
	logger  *slog.Logger
}

// NewLLMRewriter creates a rewriter. A zero timeout leaves the caller's
// deadline in charge.
func NewLLMRewriter(llm port.LLM, timeout time.Duration, logger *slog.Logger) *LLMRewriter {
	return &LLMRewriter{llm: llm, timeout: timeout, logger: logging.OrDefault(logger)}
}

func (r *LLMRewriter) Rewrite(ctx context.Context, query string) domain.Outcome[string] {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.llm.Complete(ctx, rewriteSystemPrompt, query)
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query", slog.String("error", err.Error()))
		return domain.Fallback(query, err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return domain.Success(query)
	}
	return domain.Success(out)
}

// NoOpRewriter returns the query unchanged.
type NoOpRewriter struct{}

func (NoOpRewriter) Rewrite(_ context.Context, query string) domain.Outcome[string] {
	return domain.Success(query)
}
