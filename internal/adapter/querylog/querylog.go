// Package querylog keeps an append-only JSONL record of every search.
package querylog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docsearch/internal/domain"
	"docsearch/internal/logging"
)

// DefaultFile is the conventional log file name.
const DefaultFile = "queries.jsonl"

// maxLineSize bounds a single JSONL record when reading the log back.
const maxLineSize = 4 << 20

// ResultRef is a logged result.
type ResultRef struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// Entry is one logged query.
type Entry struct {
	QueryID        string         `json:"queryId"`
	Timestamp      time.Time      `json:"timestamp"`
	OriginalQuery  string         `json:"originalQuery"`
	RewrittenQuery string         `json:"rewrittenQuery,omitempty"`
	SearchMethod   string         `json:"searchMethod"`
	Filter         domain.Filter  `json:"filter,omitempty"`
	TopK           int            `json:"topK"`
	ResultsCount   int            `json:"resultsCount"`
	Results        []ResultRef    `json:"results"`
	Timings        domain.Timings `json:"timings"`
}

// Query describes a finished search to be logged.
type Query struct {
	Original  string
	Rewritten string
	Method    domain.Method
	Filter    domain.Filter
	TopK      int
	Results   []domain.SearchResult
	Timings   domain.Timings
}

// Log appends entries to a JSONL file. A nil *Log or one with an empty path
// records nothing.
type Log struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func New(path string, logger *slog.Logger) *Log {
	return &Log{path: path, logger: logging.OrDefault(logger), now: time.Now}
}

// Path returns the log file path.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NewEntry builds the record for q with a fresh id and timestamp.
func (l *Log) NewEntry(q Query) Entry {
	refs := make([]ResultRef, len(q.Results))
	for i, r := range q.Results {
		refs[i] = ResultRef{
			ID:     r.ID,
			Source: r.Metadata.Source,
			Score:  r.Similarity(),
			Rank:   i + 1,
		}
	}
	return Entry{
		QueryID:        uuid.NewString(),
		Timestamp:      l.now().UTC(),
		OriginalQuery:  q.Original,
		RewrittenQuery: q.Rewritten,
		SearchMethod:   q.Method.String(),
		Filter:         q.Filter,
		TopK:           q.TopK,
		ResultsCount:   len(q.Results),
		Results:        refs,
		Timings:        q.Timings,
	}
}

// Record logs q. Failures are reported through slog and otherwise ignored;
// a broken log never fails a search.
func (l *Log) Record(q Query) {
	if l == nil || l.path == "" {
		return
	}
	if err := l.Append(l.NewEntry(q)); err != nil {
		l.logger.Warn("failed to write query log", slog.String("path", l.path), slog.String("error", err.Error()))
	}
}

// Append writes one entry as a single line.
func (l *Log) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode query log entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create query log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open query log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write query log: %w", err)
	}
	return f.Close()
}

// Read loads every entry from a log file. Malformed lines are skipped.
// A missing file yields no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// SourceCount is how often a source appeared in results.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary aggregates a query log.
type Summary struct {
	Queries      int            `json:"queries"`
	ByMethod     map[string]int `json:"byMethod"`
	AvgTotalMs   float64        `json:"avgTotalMs"`
	ZeroResults  int            `json:"zeroResults"`
	Rewritten    int            `json:"rewritten"`
	TopSources   []SourceCount  `json:"topSources"`
	FirstQueryAt time.Time      `json:"firstQueryAt,omitzero"`
	LastQueryAt  time.Time      `json:"lastQueryAt,omitzero"`
}

// Analyze summarises entries. topN bounds TopSources.
func Analyze(entries []Entry, topN int) Summary {
	s := Summary{Queries: len(entries), ByMethod: make(map[string]int)}
	if len(entries) == 0 {
		return s
	}

	sources := make(map[string]int)
	var total int64
	for _, e := range entries {
		s.ByMethod[e.SearchMethod]++
		total += e.Timings.TotalMs
		if e.ResultsCount == 0 {
			s.ZeroResults++
		}
		if e.RewrittenQuery != "" {
			s.Rewritten++
		}
		for _, r := range e.Results {
			sources[r.Source]++
		}
		if s.FirstQueryAt.IsZero() || e.Timestamp.Before(s.FirstQueryAt) {
			s.FirstQueryAt = e.Timestamp
		}
		if e.Timestamp.After(s.LastQueryAt) {
			s.LastQueryAt = e.Timestamp
		}
	}
	s.AvgTotalMs = float64(total) / float64(len(entries))

	for src, n := range sources {
		s.TopSources = append(s.TopSources, SourceCount{Source: src, Count: n})
	}
	sort.Slice(s.TopSources, func(i, j int) bool {
		if s.TopSources[i].Count != s.TopSources[j].Count {
			return s.TopSources[i].Count > s.TopSources[j].Count
		}
		return s.TopSources[i].Source < s.TopSources[j].Source
	})
	if topN > 0 && len(s.TopSources) > topN {
		s.TopSources = s.TopSources[:topN]
	}
	return s
}
