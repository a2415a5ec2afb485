package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/embedding"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/pool"
)

// Selection is the outcome of target selection for one question.
type Selection struct {
	Tables  []string `json:"tables"`
	Context string   `json:"-"`
	// Method is concepts, embedding, default or all.
	Method string `json:"method"`
}

// ColumnLoader reads a table's live column list from the warehouse.
type ColumnLoader interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Options configures a Service.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	// Embedder enables similarity selection when no concept matches.
	Embedder embedding.Embedder
	// EmbeddingThreshold and EmbeddingTopK bound similarity selection.
	EmbeddingThreshold float64
	EmbeddingTopK      int
	// Loader, when set, supplies columns missing from the catalog.
	Loader ColumnLoader
	Logger logging.Logger
}

// Service selects the tables a question needs and renders their schema
// context. Table descriptions are cached and concurrent misses for the same
// table share one load.
type Service struct {
	catalog *Catalog
	opts    Options
	cache   *cache.Bounded[string]
	group   singleflight.Group

	embedMu sync.Mutex
	embeds  map[string][]float32
}

// NewService creates a Service over catalog.
func NewService(catalog *Catalog, optFns ...func(o *Options)) *Service {
	opts := Options{
		CacheSize:          100,
		CacheTTL:           time.Hour,
		EmbeddingThreshold: 0.3,
		EmbeddingTopK:      3,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{
		catalog: catalog,
		opts:    opts,
		cache:   cache.NewBounded[string](opts.CacheSize, opts.CacheTTL),
	}
}

// Catalog returns the underlying catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// CacheStats reports the table-description cache counters.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// ClearCache drops cached table descriptions.
func (s *Service) ClearCache() { s.cache.Clear() }

// Select picks the tables for question: concept matches first, then
// embedding similarity, then the catalog defaults, then every table.
func (s *Service) Select(ctx context.Context, question string) (*Selection, error) {
	sel := &Selection{Method: "concepts", Tables: s.catalog.MatchConcepts(question)}
	if len(sel.Tables) == 0 && s.opts.Embedder != nil {
		sel.Method = "embedding"
		sel.Tables = s.selectByEmbedding(ctx, question)
	}
	if len(sel.Tables) == 0 && len(s.catalog.Default) > 0 {
		sel.Method = "default"
		sel.Tables = append([]string(nil), s.catalog.Default...)
	}
	if len(sel.Tables) == 0 {
		sel.Method = "all"
		sel.Tables = s.catalog.Names()
	}

	parts := make([]string, 0, len(sel.Tables))
	for _, name := range sel.Tables {
		desc, err := s.Describe(ctx, name)
		if err != nil {
			return nil, err
		}
		parts = append(parts, desc)
	}
	sel.Context = strings.Join(parts, "\n")

	s.opts.Logger.Debug("Tables selected", "method", sel.Method, "tables", sel.Tables)
	return sel, nil
}

// Describe returns the schema context text for one table.
func (s *Service) Describe(ctx context.Context, name string) (string, error) {
	key := "schema_" + strings.ToLower(name)
	if desc, ok := s.cache.Get(key); ok {
		return desc, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		desc, err := s.load(ctx, name)
		if err != nil {
			return "", err
		}
		s.cache.Set(key, desc)
		return desc, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) load(ctx context.Context, name string) (string, error) {
	t, ok := s.catalog.Get(name)
	if !ok {
		return "", fmt.Errorf("table %q is not in the catalog", name)
	}
	if len(t.Columns) == 0 && s.opts.Loader != nil {
		cols, err := s.opts.Loader.Columns(ctx, t.Name)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.opts.Logger.Warn("Column load failed, using catalog entry", "table", t.Name, "error", err)
		} else {
			t.Columns = cols
		}
	}
	return t.Describe(), nil
}

func (s *Service) selectByEmbedding(ctx context.Context, question string) []string {
	tables, err := s.tableEmbeddings(ctx)
	if err != nil {
		s.opts.Logger.Warn("Table embeddings unavailable", "error", err)
		return nil
	}
	q, err := s.opts.Embedder.Embed(ctx, embedding.Normalize(question))
	if err != nil {
		s.opts.Logger.Warn("Question embedding failed", "error", err)
		return nil
	}

	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, name := range s.catalog.Names() {
		sim, err := cache.CosineSimilarity(q, tables[name])
		if err != nil {
			continue
		}
		if sim >= s.opts.EmbeddingThreshold {
			hits = append(hits, scored{name: name, score: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if s.opts.EmbeddingTopK > 0 && len(hits) > s.opts.EmbeddingTopK {
		hits = hits[:s.opts.EmbeddingTopK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// tableEmbeddings computes the catalog embeddings once. A failed attempt is
// retried on the next call.
func (s *Service) tableEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.embedMu.Lock()
	defer s.embedMu.Unlock()
	if s.embeds != nil {
		return s.embeds, nil
	}
	embeds := make(map[string][]float32, len(s.catalog.Tables))
	for _, t := range s.catalog.Tables {
		vec, err := s.opts.Embedder.Embed(ctx, t.embeddingText())
		if err != nil {
			return nil, fmt.Errorf("embed table %s: %w", t.Name, err)
		}
		embeds[t.Name] = vec
	}
	s.embeds = embeds
	return embeds, nil
}

// DefaultColumnsQuery lists a SQL Server table's columns.
const DefaultColumnsQuery = `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION`

// SQLColumnLoader reads columns through the read pool.
type SQLColumnLoader struct {
	Pool *pool.Pool[*sql.Conn]
	// Query returns name and type per column. Defaults to DefaultColumnsQuery.
	Query string
	// Args maps a qualified table name to query arguments. Defaults to
	// (schema, table).
	Args func(schema, table string) []any
	// Schema replaces the catalog schema when set, e.g. the warehouse schema.
	Schema string
}

// Columns implements ColumnLoader.
func (l *SQLColumnLoader) Columns(ctx context.Context, qualified string) ([]Column, error) {
	schemaName, table, ok := strings.Cut(qualified, ".")
	if !ok {
		return nil, fmt.Errorf("table %q is not schema-qualified", qualified)
	}
	if l.Schema != "" {
		schemaName = l.Schema
	}
	query := l.Query
	if query == "" {
		query = DefaultColumnsQuery
	}
	args := []any{schemaName, table}
	if l.Args != nil {
		args = l.Args(schemaName, table)
	}

	var cols []Column
	err := l.Pool.With(ctx, pool.IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var col Column
			if err := rows.Scan(&col.Name, &col.Type); err != nil {
				return err
			}
			cols = append(cols, col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", qualified, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns", qualified)
	}
	return cols, nil
}
