package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lina-go/backend-delfos-sub000/pool"
)

// Persister stores conversation turns outside the process.
type Persister interface {
	SaveTurns(ctx context.Context, userID string, turns ...Turn) error
	LoadTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
}

// DefaultTurnsTable is the table SQLPersister writes to.
const DefaultTurnsTable = "conversation_turns"

// SQLPersister writes turns through a pool of write connections.
type SQLPersister struct {
	pool   *pool.Pool[*sql.Conn]
	driver string
	table  string
}

// NewSQLPersister creates a persister for driver (pool.DriverSQLite or
// pool.DriverSQLServer). An empty table uses DefaultTurnsTable.
func NewSQLPersister(p *pool.Pool[*sql.Conn], driver, table string) *SQLPersister {
	if table == "" {
		table = DefaultTurnsTable
	}
	return &SQLPersister{pool: p, driver: driver, table: table}
}

// EnsureSchema creates the turns table when it does not exist.
func (p *SQLPersister) EnsureSchema(ctx context.Context) error {
	var ddl string
	if p.driver == pool.DriverSQLServer {
		ddl = fmt.Sprintf(`IF OBJECT_ID(N'%[1]s', N'U') IS NULL
CREATE TABLE %[1]s (
	id NVARCHAR(36) NOT NULL PRIMARY KEY,
	user_id NVARCHAR(200) NOT NULL,
	role NVARCHAR(20) NOT NULL,
	content NVARCHAR(MAX) NOT NULL,
	query_type NVARCHAR(40) NULL,
	had_visual BIT NOT NULL,
	tables_used NVARCHAR(MAX) NULL,
	created_at BIGINT NOT NULL
)`, p.table)
	} else {
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL PRIMARY KEY,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	query_type TEXT,
	had_visual INTEGER NOT NULL,
	tables_used TEXT,
	created_at INTEGER NOT NULL
)`, p.table)
	}
	return p.pool.With(ctx, pool.IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		if _, err := c.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", p.table, err)
		}
		return nil
	})
}

// SaveTurns inserts turns in one transaction.
func (p *SQLPersister) SaveTurns(ctx context.Context, userID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	marks := make([]string, 8)
	for i := range marks {
		marks[i] = pool.Placeholder(p.driver, i+1)
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (id, user_id, role, content, query_type, had_visual, tables_used, created_at) VALUES (%s)",
		p.table, strings.Join(marks, ", "))

	return p.pool.With(ctx, pool.IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		tx, err := c.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck
		for _, t := range turns {
			ts := t.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			if _, err := tx.ExecContext(ctx, stmt,
				uuid.NewString(), userID, t.Role, t.Content, t.QueryType,
				t.HadVisual, strings.Join(t.Tables, ","), ts.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
		}
		return tx.Commit()
	})
}

// LoadTurns returns the user's most recent turns, oldest first.
func (p *SQLPersister) LoadTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	var query string
	if p.driver == pool.DriverSQLServer {
		query = fmt.Sprintf(`SELECT TOP (%d) role, content, query_type, had_visual, tables_used, created_at
FROM %s WHERE user_id = @p1 ORDER BY created_at DESC`, limit, p.table)
	} else {
		query = fmt.Sprintf(`SELECT role, content, query_type, had_visual, tables_used, created_at
FROM %s WHERE user_id = ? ORDER BY created_at DESC LIMIT %d`, p.table, limit)
	}

	var turns []Turn
	err := p.pool.With(ctx, pool.IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		rows, err := c.QueryContext(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				t         Turn
				queryType sql.NullString
				tables    sql.NullString
				created   int64
			)
			if err := rows.Scan(&t.Role, &t.Content, &queryType, &t.HadVisual, &tables, &created); err != nil {
				return err
			}
			t.QueryType = queryType.String
			if tables.String != "" {
				t.Tables = strings.Split(tables.String, ",")
			}
			t.Timestamp = time.UnixMilli(created).UTC()
			turns = append(turns, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
