package engine

import (
	"context"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/embedding"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// CacheKey is the exact-tier key of a question. The sub-type is part of the
// key so one wording never answers two shapes.
func CacheKey(question, subType string) string {
	return embedding.Normalize(question) + "|" + subType
}

// embedQuestion returns nil when the semantic tier is off or the embedding
// fails; both tiers then behave as if the semantic cache were empty.
func (e *Engine) embedQuestion(ctx context.Context, question string, logger logging.Logger) []float32 {
	if e.opts.SemanticCache == nil {
		return nil
	}
	vec, err := e.opts.SemanticCache.Embed(ctx, embedding.Normalize(question))
	if err != nil {
		logger.Warn("Question embedding failed, bypassing semantic cache", "error", err)
		return nil
	}
	return vec
}

// lookup consults the semantic tier, then the exact tier.
func (e *Engine) lookup(key string, vec []float32, subType string) *Response {
	if vec != nil {
		sameShape := func(r *Response) bool { return r.SubType == subType }
		if resp, _, ok := e.opts.SemanticCache.SearchMatching(vec, sameShape); ok {
			return resp
		}
	}
	if e.opts.ExactCache != nil {
		if resp, ok := e.opts.ExactCache.Get(key); ok {
			return resp
		}
	}
	return nil
}

// store writes a verified response into both tiers.
func (e *Engine) store(key, question string, vec []float32, resp *Response) {
	entry := resp.clone()
	entry.Cached = false
	if e.opts.ExactCache != nil {
		e.opts.ExactCache.Set(key, entry)
	}
	if vec != nil {
		e.opts.SemanticCache.Store(key, question, vec, entry)
	}
}

// CacheStats reports the counters of every cache tier the engine knows of.
func (e *Engine) CacheStats() map[string]cache.Stats {
	out := make(map[string]cache.Stats, 3)
	if e.opts.ExactCache != nil {
		out["exact"] = e.opts.ExactCache.Stats()
	}
	if e.opts.SemanticCache != nil {
		out["semantic"] = e.opts.SemanticCache.Stats()
	}
	if s, ok := e.deps.Schema.(interface{ CacheStats() cache.Stats }); ok {
		out["schema"] = s.CacheStats()
	}
	return out
}

// ClearCaches empties every cache tier.
func (e *Engine) ClearCaches() {
	if e.opts.ExactCache != nil {
		e.opts.ExactCache.Clear()
	}
	if e.opts.SemanticCache != nil {
		e.opts.SemanticCache.Clear()
	}
	if s, ok := e.deps.Schema.(interface{ ClearCache() }); ok {
		s.ClearCache()
	}
}

// format renders the final state of a data question.
func format(st *core.PipelineState, m hooks.Mapping) *Response {
	insight := st.Verification.Insight
	if insight == "" {
		insight = st.Narrative
	}
	if insight == "" {
		insight = st.Verification.Summary
	}

	resp := NewResponse(st.PatternType, insight)
	resp.SubType = st.SubType
	if st.Rows != nil {
		resp.Data = st.Rows
	}
	resp.Columns = st.Columns
	resp.OutputKind = st.OutputKind
	if core.IsChart(st.OutputKind) {
		resp.Visual = VisualYes
		resp.DataPoints = st.DataPoints
		resp.MetricName = m.YColumn
		if m.MetricName != "" {
			resp.MetricName = m.MetricName
		}
	}
	resp.Title = st.Title
	resp.IsRate = st.IsRate
	resp.SQL = st.SQL
	resp.Stats = st.Stats
	resp.RowCount = len(st.Rows)
	resp.Attempts = st.Attempts
	resp.Verified = st.Verification.Passed
	resp.Issues = st.Verification.Issues
	resp.Tables = st.SQLTables
	if len(resp.Tables) == 0 {
		resp.Tables = st.SelectedTables
	}
	resp.Temporality = st.Temporality
	return resp
}
