package knowledge

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"foamagent/pkg/logx"
)

// Granularity selects which entry kind a query searches.
type Granularity string

// Retrieval granularities.
const (
	GranularityCase       Granularity = "case"
	GranularityFile       Granularity = "file"
	GranularityDependency Granularity = "dependency"
	GranularityCommand    Granularity = "command"
)

// Kind maps a granularity to the entry kind it searches.
func (g Granularity) Kind() (EntryKind, error) {
	switch g {
	case GranularityCase:
		return KindCaseLayout, nil
	case GranularityFile:
		return KindFileTemplate, nil
	case GranularityDependency:
		return KindDependencyRule, nil
	case GranularityCommand:
		return KindCommandDoc, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", g)
	}
}

// Filters restrict candidates before ranking. Empty fields match anything;
// set fields must match exactly.
type Filters struct {
	Solver string
	Domain string
	Case   string
	// Role is a file path. File templates must have that path, case layouts
	// must contain it, dependency rules must have a file glob matching it
	// and command docs must have that name.
	Role string
}

// Query is one retrieval request.
type Query struct {
	Text        string
	Granularity Granularity
	K           int
	Filters     Filters
}

// ScoredEntry is a ranked result. Entry points into the index and must not
// be modified.
type ScoredEntry struct {
	Entry *IndexEntry
	Score float64
}

// RetrievalContext is the ordered result of a query.
type RetrievalContext struct {
	Query   Query
	Results []ScoredEntry
}

// Entries returns the result entries in rank order.
func (rc *RetrievalContext) Entries() []*IndexEntry {
	out := make([]*IndexEntry, 0, len(rc.Results))
	for _, r := range rc.Results {
		out = append(out, r.Entry)
	}
	return out
}

// Retriever answers top-k queries over a read-only Index. It is safe for
// concurrent use.
type Retriever struct {
	index    *Index
	embedder Embedder
	scorer   Scorer
	cache    *lru.Cache[string, []float32]
	logger   *logx.Logger
}

// RetrieverOption customizes a Retriever.
type RetrieverOption func(*Retriever)

// WithScorer replaces the cosine scorer.
func WithScorer(s Scorer) RetrieverOption {
	return func(r *Retriever) { r.scorer = s }
}

// NewRetriever creates a Retriever. cacheSize bounds the number of cached
// query vectors.
func NewRetriever(index *Index, embedder Embedder, cacheSize int, opts ...RetrieverOption) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("retriever needs an index")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retriever needs an embedder")
	}
	if index.Embedder != "" && index.Embedder != embedder.Name() {
		return nil, fmt.Errorf("index was built with %s but queries use %s", index.Embedder, embedder.Name())
	}
	if cacheSize < 1 {
		cacheSize = 128
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}
	r := &Retriever{
		index:    index,
		embedder: embedder,
		scorer:   CosineScorer{},
		cache:    cache,
		logger:   logx.NewLogger("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Index returns the index being searched.
func (r *Retriever) Index() *Index { return r.index }

// Retrieve returns at most q.K entries of the requested granularity that
// satisfy the filters, best first. Equal scores keep index order.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*RetrievalContext, error) {
	if q.K < 1 {
		return nil, ErrInvalidK
	}
	kind, err := q.Granularity.Kind()
	if err != nil {
		return nil, err
	}

	var candidates []*IndexEntry
	for i := range r.index.Entries {
		e := &r.index.Entries[i]
		if e.Kind == kind && q.Filters.match(e) {
			candidates = append(candidates, e)
		}
	}
	out := &RetrievalContext{Query: q}
	if len(candidates) == 0 {
		logx.Debug(ctx, "retriever", "no %s candidates for filters %+v", q.Granularity, q.Filters)
		return out, nil
	}

	vec, err := r.queryVector(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	results := make([]ScoredEntry, 0, len(candidates))
	for _, e := range candidates {
		results = append(results, ScoredEntry{Entry: e, Score: r.scorer.Score(vec, e)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Seq < results[j].Entry.Seq
	})
	if len(results) > q.K {
		results = results[:q.K]
	}
	out.Results = results
	logx.Debug(ctx, "retriever", "%s query returned %d of %d candidates", q.Granularity, len(results), len(candidates))
	return out, nil
}

func (r *Retriever) queryVector(ctx context.Context, text string) ([]float32, error) {
	if v, ok := r.cache.Get(text); ok {
		return v, nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := checkCount(len(vectors), 1); err != nil {
		return nil, err
	}
	r.cache.Add(text, vectors[0])
	return vectors[0], nil
}

func (f Filters) match(e *IndexEntry) bool {
	if f.Solver != "" && e.Meta.Solver != f.Solver {
		return false
	}
	if f.Domain != "" && e.Meta.Domain != f.Domain {
		return false
	}
	if f.Case != "" && e.Meta.Case != f.Case {
		return false
	}
	if f.Role == "" {
		return true
	}
	switch e.Kind {
	case KindDependencyRule:
		ok, err := path.Match(e.Meta.Path, f.Role)
		return err == nil && ok
	case KindCaseLayout:
		return slices.Contains(e.Meta.Files, f.Role)
	default:
		return e.Meta.Path == f.Role
	}
}
