package runner

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/sync/errgroup"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/classify"
	"github.com/Lina-go/backend-delfos-sub000/config"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/embedding"
	"github.com/Lina-go/backend-delfos-sub000/engine"
	"github.com/Lina-go/backend-delfos-sub000/flow"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
	anthropicmodel "github.com/Lina-go/backend-delfos-sub000/model/anthropic"
	openaimodel "github.com/Lina-go/backend-delfos-sub000/model/openai"
	"github.com/Lina-go/backend-delfos-sub000/pool"
	"github.com/Lina-go/backend-delfos-sub000/query"
	"github.com/Lina-go/backend-delfos-sub000/retry"
	"github.com/Lina-go/backend-delfos-sub000/schema"
	"github.com/Lina-go/backend-delfos-sub000/session"
)

// Options holds dependency overrides passed to New. Nil fields are built
// from the configuration.
type Options struct {
	// Model replaces the configured LLM provider.
	Model model.Model
	// Embedder replaces the configured embedding provider.
	Embedder embedding.Embedder
	// Catalog replaces the catalog file.
	Catalog *schema.Catalog
	Logger  logging.Logger
}

// Runner owns every long-lived resource of the application: the two
// connection pools, the model gate, the caches and the engine. Close
// releases them in order.
type Runner struct {
	cfg    *config.Config
	logger logging.Logger

	warehouseDB *sql.DB
	databaseDB  *sql.DB
	warehouse   *pool.Pool[*sql.Conn]
	database    *pool.Pool[*sql.Conn]

	limiter *core.ConcurrencyLimiter
	engine  *engine.Engine
}

// New assembles the pipeline from cfg.
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: cfg.Log.Format,
		})
	}

	r := &Runner{cfg: cfg, logger: opts.Logger}
	if err := r.build(ctx, opts); err != nil {
		_ = r.Close(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *Runner) build(ctx context.Context, opts Options) error {
	cfg := r.cfg
	logger := r.logger

	var err error
	r.warehouseDB, r.warehouse, err = openPool(ctx, "warehouse", cfg.Warehouse, cfg, logger)
	if err != nil {
		return err
	}
	r.databaseDB, r.database, err = openPool(ctx, "database", cfg.Database, cfg, logger)
	if err != nil {
		return err
	}

	catalog := opts.Catalog
	if catalog == nil {
		if catalog, err = schema.LoadCatalog(cfg.Schema.CatalogPath); err != nil {
			return err
		}
	}

	base := opts.Model
	if base == nil {
		if base, err = newModel(cfg.LLM); err != nil {
			return err
		}
	}
	embedder := opts.Embedder
	if embedder == nil {
		embedder, err = embedding.New(ctx, embedding.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			APIKey:   cfg.Embedding.APIKey,
		})
		if err != nil {
			return err
		}
	}

	r.limiter = core.NewConcurrencyLimiter(cfg.LLM.MaxConcurrentRequests, cfg.LLM.GateTimeout)
	guarded := model.NewGuarded(base, func(o *model.GuardedOptions) {
		o.Limiter = r.limiter
		o.Retry = retry.Policy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialDelay:   cfg.Retry.InitialDelay,
			BackoffFactor:  cfg.Retry.BackoffFactor,
			RetryTransient: true,
		}
		o.Logger = logger
	})

	schemaOpts := func(o *schema.Options) {
		o.CacheSize = cfg.Cache.Schema.MaxSize
		o.CacheTTL = cfg.Cache.Schema.TTL
		o.Embedder = embedder
		o.Loader = columnLoader(r.warehouse, cfg)
		o.Logger = logger
	}
	selector := schema.NewService(catalog, schemaOpts)

	gen := query.NewGenerator(guarded.WithTimeout(cfg.Timeouts.Generation), func(o *query.GeneratorOptions) {
		o.MaxTokens = cfg.LLM.MaxTokens
		o.Logger = logger
	})
	val := query.NewValidator(func(o *query.ValidatorOptions) {
		o.RequiredPrefix = cfg.SQL.RequiredPrefix
		o.KnownTables = catalog.KnownTables()
	})
	exec := query.NewExecutor(r.warehouse, func(o *query.ExecutorOptions) {
		o.Timeout = cfg.Timeouts.Execution
		o.Schema = cfg.SQL.WarehouseSchema
		if cfg.SQL.RowCeiling > 0 {
			o.MaxRows = cfg.SQL.RowCeiling + 1
		}
		o.Logger = logger
	})
	ver := query.NewVerifier(func(o *query.VerifierOptions) {
		o.RowCeiling = cfg.SQL.RowCeiling
		o.Timeout = cfg.Timeouts.Verification
		if cfg.SQL.UseLLMVerification {
			o.Model = guarded
		}
		o.Logger = logger
	})
	resolver := flow.New(gen, val, exec, ver, func(o *flow.Options) {
		o.MaxRetries = cfg.SQL.MaxRetries
		o.MaxVerificationRetries = cfg.SQL.MaxVerificationRetries
		o.Logger = logger
	})

	registry := hooks.NewDefaultRegistry(logger)
	sessions := session.NewStore(cfg.Session.MaxHistoryTurns)

	var persister session.Persister
	if cfg.Session.Persist {
		p := session.NewSQLPersister(r.database, cfg.Database.Driver, session.DefaultTurnsTable)
		if err := p.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare session store: %w", err)
		}
		persister = p
	}

	r.engine = engine.New(engine.Deps{
		Triage: classify.NewTriage(guarded, func(o *classify.TriageOptions) {
			o.Timeout = cfg.Timeouts.Triage
			o.Logger = logger
		}),
		Intent: classify.NewIntentClassifier(guarded, func(o *classify.IntentOptions) {
			o.Timeout = cfg.Timeouts.Intent
			o.Logger = logger
		}),
		Schema:   selector,
		Resolver: resolver,
		Hooks:    registry,
		Router:   engine.NewDefaultRouter(guarded, registry, logger),
		Sessions: sessions,
	}, func(o *engine.Options) {
		o.Config.MaxHistoryTurns = cfg.Session.MaxHistoryTurns
		o.ExactCache = cache.NewBounded[*engine.Response](cfg.Cache.Exact.MaxSize, cfg.Cache.Exact.TTL)
		if cfg.Cache.Semantic.Enabled && embedder != nil {
			o.SemanticCache = cache.NewSemantic[*engine.Response](embedder, func(so *cache.SemanticOptions) {
				so.MaxSize = cfg.Cache.Semantic.MaxSize
				so.TTL = cfg.Cache.Semantic.TTL
				so.Threshold = cfg.Cache.Semantic.Threshold
			})
		}
		o.Persister = persister
		o.Callbacks = engine.NewCallbackManager(logger)
		o.Logger = logger
	})

	logger.Info("Pipeline assembled",
		"llm_provider", base.Info().Provider,
		"llm_model", base.Info().Name,
		"tables", len(catalog.Tables),
		"semantic_cache", cfg.Cache.Semantic.Enabled && embedder != nil,
		"persist_sessions", persister != nil,
	)
	return nil
}

func openPool(ctx context.Context, name string, db config.DBConfig, cfg *config.Config, logger logging.Logger) (*sql.DB, *pool.Pool[*sql.Conn], error) {
	handle, err := pool.OpenDB(db.Driver, db.DSN, db.MaxSize)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	p := pool.NewSQL(ctx, handle, func(o *pool.Options[*sql.Conn]) {
		o.Name = name
		o.MaxSize = db.MaxSize
		o.AcquireTimeout = cfg.Pool.AcquireTimeout
		o.Logger = logger
	})
	return handle, p, nil
}

// columnLoader picks the column query matching the warehouse driver.
func columnLoader(p *pool.Pool[*sql.Conn], cfg *config.Config) schema.ColumnLoader {
	if cfg.Warehouse.Driver == pool.DriverSQLServer {
		return &schema.SQLColumnLoader{Pool: p, Schema: cfg.SQL.WarehouseSchema}
	}
	return &schema.SQLColumnLoader{
		Pool:  p,
		Query: "SELECT name, type FROM pragma_table_info(?)",
		Args:  func(_, table string) []any { return []any{table} },
	}
}

func newModel(cfg config.LLMConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
		}), nil
	case "openai":
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Engine returns the assembled engine.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Config returns the configuration the runner was built from.
func (r *Runner) Config() *config.Config { return r.cfg }

// Logger returns the application logger.
func (r *Runner) Logger() logging.Logger { return r.logger }

// PoolStats reports the occupancy of both pools.
func (r *Runner) PoolStats() []pool.Stats {
	var out []pool.Stats
	for _, p := range []*pool.Pool[*sql.Conn]{r.warehouse, r.database} {
		if p != nil {
			out = append(out, p.Stats())
		}
	}
	return out
}

// ModelGate reports how many model slots are taken and available.
func (r *Runner) ModelGate() (inFlight, capacity int) {
	if r.limiter == nil {
		return 0, 0
	}
	return r.limiter.InFlight(), r.limiter.Capacity()
}

// HealthCheck runs the health query on both pools.
func (r *Runner) HealthCheck(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range []*pool.Pool[*sql.Conn]{r.warehouse, r.database} {
		if p == nil {
			continue
		}
		g.Go(func() error {
			if err := p.HealthCheck(ctx); err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close drains background persistence, then closes both pools and finally
// their database handles.
func (r *Runner) Close(ctx context.Context) error {
	if r.engine != nil {
		done := make(chan struct{})
		go func() {
			r.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("Shutdown deadline reached before background work finished", "error", ctx.Err())
		}
	}

	for _, p := range []*pool.Pool[*sql.Conn]{r.warehouse, r.database} {
		if p != nil {
			p.CloseAll()
		}
	}

	var dbs errgroup.Group
	for _, db := range []*sql.DB{r.warehouseDB, r.databaseDB} {
		if db != nil {
			dbs.Go(db.Close)
		}
	}
	return dbs.Wait()
}
