package query

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/pool"
	"github.com/Lina-go/backend-delfos-sub000/retry"
)

var tracer = otel.Tracer("delfos/query")

// Result is an executed query's ordered rows.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	// Truncated is set when reading stopped at MaxRows.
	Truncated bool `json:"truncated,omitempty"`
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Timeout bounds one query attempt.
	Timeout time.Duration
	// Schema replaces dbo. references; empty disables the rewrite.
	Schema string
	// MaxRows stops reading after this many rows. Zero reads everything.
	MaxRows int
	Retry   retry.Policy
	Logger  logging.Logger
}

// Executor runs validated candidates on pooled warehouse connections.
type Executor struct {
	pool *pool.Pool[*sql.Conn]
	opts ExecutorOptions
}

// NewExecutor creates an Executor over the read pool.
func NewExecutor(p *pool.Pool[*sql.Conn], optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Timeout: 50 * time.Second,
		Schema:  pool.DefaultWarehouseSchema,
		Retry:   retry.DatabasePolicy(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Executor{pool: p, opts: opts}
}

// Execute runs query. Transient failures are retried with the database
// policy; broken connections are discarded. Pool exhaustion is returned
// unchanged, other failures are wrapped as KindExecution.
func (e *Executor) Execute(ctx context.Context, query string) (*Result, error) {
	if e.opts.Schema != "" {
		query = pool.AdaptForWarehouse(query, e.opts.Schema)
	}

	ctx, span := tracer.Start(ctx, "query.execute", trace.WithAttributes(
		attribute.String("db.pool", e.pool.Name()),
	))
	defer span.End()

	start := time.Now()
	res, err := retry.Run(ctx, e.opts.Retry, func(ctx context.Context) (*Result, error) {
		var out *Result
		err := e.pool.With(ctx, pool.IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
			qctx := ctx
			if e.opts.Timeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
				defer cancel()
			}
			r, err := e.run(qctx, c, query)
			out = r
			return err
		})
		return out, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.opts.Logger.Warn("Query execution failed", "duration", time.Since(start), "error", err.Error())
		if core.IsResourceExhausted(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, core.NewError(core.KindExecution, "query execution failed", err)
	}

	span.SetAttributes(attribute.Int("db.rows", len(res.Rows)))
	e.opts.Logger.Debug("Query executed", "rows", len(res.Rows), "duration", time.Since(start))
	return res, nil
}

func (e *Executor) run(ctx context.Context, c *sql.Conn, query string) (*Result, error) {
	rows, err := c.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols, Rows: []map[string]any{}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if e.opts.MaxRows > 0 && len(res.Rows) >= e.opts.MaxRows {
			res.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalize(vals[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// normalize converts driver values into JSON-friendly ones. Decimal columns
// arrive as bytes and become float64 when they parse.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		s := string(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
