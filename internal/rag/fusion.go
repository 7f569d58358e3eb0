package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/llm"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

const (
	// subQueryCount is how many paraphrased queries the model is asked
	// to produce alongside the original.
	subQueryCount = 2

	// fusionK dampens the impact of outlier rankings when merging
	// lists.
	fusionK = 60.0

	// fusionCandidateBudget is split evenly across all fused queries.
	fusionCandidateBudget = 50
)

// Fusion broadens recall by searching with model-generated paraphrases
// of the query and merging the per-query result lists with reciprocal
// rank fusion.
type Fusion struct {
	strategyDeps
}

// NewFusion creates the fusion strategy.
func NewFusion(embedder embedding.Embedder, index vectorindex.Index, client llm.Client, logger *zap.Logger) *Fusion {
	return &Fusion{strategyDeps: newStrategyDeps(embedder, index, client, logger, "rag.fusion")}
}

// generateQueries asks the model for paraphrased search queries and
// appends the original query as the final list entry.
func (f *Fusion) generateQueries(ctx context.Context, query string) ([]string, error) {
	prompt := fmt.Sprintf("You are a helpful assistant that generates multiple search queries based on a "+
		"single input query. Generate %d search queries, one on each line, "+
		"related to the following input query:\nQuery: %s\nQueries:\n", subQueryCount, query)

	resp, err := f.llm.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to generate sub-queries: %w", err)
	}

	queries := llm.SplitLines(resp)
	queries = append(queries, query)
	f.logger.Debug("Generated sub-queries", zap.Strings("queries", queries))
	return queries, nil
}

// Retrieve runs one fused query per sub-query, drops passages below
// threshold, then merges the surviving lists by reciprocal rank and
// keeps the top limit.
func (f *Fusion) Retrieve(ctx context.Context, query, collection string, limit int, threshold float32) ([]Passage, error) {
	queries, err := f.generateQueries(ctx, query)
	if err != nil {
		return nil, err
	}

	perQuery := fusionCandidateBudget / len(queries)
	if perQuery < 1 {
		perQuery = 1
	}

	lists := make([][]Passage, 0, len(queries))
	for _, q := range queries {
		emb, err := f.embedder.Embed(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to embed sub-query: %w", err)
		}
		points, err := f.index.QueryFused(ctx, collection, emb.Dense, emb.Sparse, perQuery, 0)
		if err != nil {
			return nil, err
		}
		lists = append(lists, filterByThreshold(toPassages(points), threshold))
	}

	fused := reciprocalRankFusion(lists)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// Search runs fused retrieval and synthesizes an answer.
func (f *Fusion) Search(ctx context.Context, query, collection string, limit int, threshold float32) (string, error) {
	passages, err := f.Retrieve(ctx, query, collection, limit, threshold)
	if err != nil {
		return "", err
	}
	f.logger.Debug("Fused context",
		zap.String("collection", collection),
		zap.Int("passages", len(passages)))
	return synthesize(ctx, f.llm, query, passages)
}

// filterByThreshold drops passages scoring below threshold. A zero or
// negative threshold keeps everything.
func filterByThreshold(passages []Passage, threshold float32) []Passage {
	if threshold <= 0 {
		return passages
	}
	kept := passages[:0]
	for _, p := range passages {
		if p.Score >= threshold {
			kept = append(kept, p)
		}
	}
	return kept
}

// reciprocalRankFusion merges ranked lists keyed by passage text: each
// appearance adds 1/(rank+k) from its position in that list. The
// result is ordered by fused score descending; equal scores keep
// first-seen order across the input lists.
func reciprocalRankFusion(lists [][]Passage) []Passage {
	type fusedEntry struct {
		passage Passage
		score   float64
	}

	entries := make(map[string]*fusedEntry)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, p := range list {
			e, ok := entries[p.Text]
			if !ok {
				e = &fusedEntry{passage: p}
				entries[p.Text] = e
				order = append(order, p.Text)
			}
			e.score += 1.0 / (float64(rank) + fusionK)
		}
	}

	fused := make([]Passage, 0, len(order))
	for _, text := range order {
		e := entries[text]
		p := e.passage
		p.Score = float32(e.score)
		fused = append(fused, p)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}
