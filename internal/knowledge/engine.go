// Package knowledge answers ranked-passage queries over a tenant's indexed
// chunks. Scoring is deterministic: descending similarity, ties broken by
// earliest ingestion ordinal.
package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/CloudBridgeTechnologies/cloudable/internal/fault"
	"github.com/CloudBridgeTechnologies/cloudable/internal/guard"
	"github.com/CloudBridgeTechnologies/cloudable/internal/store"
)

// SearchStore captures the store methods the engine needs.
type SearchStore interface {
	CountChunks(ctx context.Context, tenantID string) (int, error)
	SearchChunks(ctx context.Context, tenantID string, vector []float32, topK int) ([]store.ChunkSearchResult, error)
}

// Embedder turns query text into a vector in the ingestion-time space.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is one ranked passage with a confidence score in [0,1].
type Result struct {
	Text    string  `json:"text"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Ordinal int     `json:"ordinal"`
}

// Response carries ranked results plus the distinct "no content" signal for
// namespaces that have nothing indexed yet. Querying before ingestion has
// completed is normal, not exceptional.
type Response struct {
	Results   []Result `json:"results"`
	NoContent bool     `json:"no_content"`
}

// Engine embeds a query and searches one tenant's namespace.
type Engine struct {
	store         SearchStore
	embedder      Embedder
	keyword       *KeywordIndex
	maxResults    int
	maxQueryChars int
}

// New builds an Engine. keyword may be nil when no fallback index is wired.
func New(st SearchStore, emb Embedder, keyword *KeywordIndex, maxResults, maxQueryChars int) *Engine {
	if maxResults <= 0 {
		maxResults = 5
	}
	if maxQueryChars <= 0 {
		maxQueryChars = 4000
	}
	return &Engine{store: st, embedder: emb, keyword: keyword, maxResults: maxResults, maxQueryChars: maxQueryChars}
}

// Query runs a nearest-neighbour search restricted to tenantID's namespace
// and returns up to k results ordered by descending score. The tenant
// filter is enforced twice: in the store predicate and again over the rows
// it returns.
func (e *Engine) Query(ctx context.Context, tenantID, text string, k int) (Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, fault.New(fault.KindValidation, "knowledge.Query", "query text required")
	}
	if len(text) > e.maxQueryChars {
		return Response{}, fault.Newf(fault.KindValidation, "knowledge.Query", "query text exceeds %d characters", e.maxQueryChars)
	}
	if k <= 0 || k > e.maxResults {
		k = e.maxResults
	}

	count, err := e.store.CountChunks(ctx, tenantID)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindUpstream, "knowledge.Query", err)
	}
	if count == 0 {
		return Response{Results: []Result{}, NoContent: true}, nil
	}

	if e.embedder == nil {
		return e.queryKeyword(tenantID, text, k)
	}

	vector, err := e.embed(ctx, text)
	if err != nil {
		return Response{}, err
	}
	hits, err := e.store.SearchChunks(ctx, tenantID, vector, k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, fault.Wrap(fault.KindTimeout, "knowledge.Query", err)
		}
		return Response{}, fault.Wrap(fault.KindUpstream, "knowledge.Query", err)
	}
	hits = guard.FilterChunks(tenantID, hits)

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Text:    h.Text,
			Source:  h.DocumentID,
			Score:   confidence(h.Distance),
			Ordinal: h.Ordinal,
		})
	}
	sortResults(results)
	return Response{Results: results}, nil
}

// QueryKeyword answers from the keyword fallback index, bypassing the
// embedder entirely.
func (e *Engine) QueryKeyword(ctx context.Context, tenantID, text string, k int) (Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, fault.New(fault.KindValidation, "knowledge.QueryKeyword", "query text required")
	}
	if k <= 0 || k > e.maxResults {
		k = e.maxResults
	}
	count, err := e.store.CountChunks(ctx, tenantID)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindUpstream, "knowledge.QueryKeyword", err)
	}
	if count == 0 {
		return Response{Results: []Result{}, NoContent: true}, nil
	}
	return e.queryKeyword(tenantID, text, k)
}

func (e *Engine) queryKeyword(tenantID, text string, k int) (Response, error) {
	if e.keyword == nil {
		return Response{}, fault.New(fault.KindUpstream, "knowledge.Query", "no embedder and no keyword index configured")
	}
	results, err := e.keyword.Search(tenantID, text, k)
	if err != nil {
		return Response{}, fault.Wrap(fault.KindUpstream, "knowledge.Query", err)
	}
	sortResults(results)
	return Response{Results: results}, nil
}

// embed retries once on upstream failure. Timeouts are surfaced, never
// retried: embedding is idempotent but the caller's deadline is not ours to
// spend twice.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fault.Wrap(fault.KindTimeout, "knowledge.embed", err)
		}
		vecs, err = e.embedder.CreateEmbedding(ctx, []string{text})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fault.Wrap(fault.KindTimeout, "knowledge.embed", err)
			}
			return nil, fault.Wrap(fault.KindUpstream, "knowledge.embed", err)
		}
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fault.New(fault.KindUpstream, "knowledge.embed", "embedder returned no vector")
	}
	return vecs[0], nil
}

// confidence maps a cosine distance to a confidence score in [0,1].
func confidence(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Ordinal < results[j].Ordinal
	})
}
