package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLPool_SQLiteRoundTrip(t *testing.T) {
	db, err := OpenDB(DriverSQLite, filepath.Join(t.TempDir(), "wh.db"), 2)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	p := NewSQL(ctx, db, func(o *Options[*sql.Conn]) {
		o.Name = "warehouse"
		o.MaxSize = 2
		o.AcquireTimeout = time.Second
	})
	defer p.CloseAll()

	require.NoError(t, p.HealthCheck(ctx))

	err = p.With(ctx, IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		if _, err := c.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
			return err
		}
		_, err := c.ExecContext(ctx, "INSERT INTO t VALUES (1), (2)")
		return err
	})
	require.NoError(t, err)

	var n int
	err = p.With(ctx, IsBrokenConn, func(ctx context.Context, c *sql.Conn) error {
		return c.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestOpenDB_UnsupportedDriver(t *testing.T) {
	_, err := OpenDB("oracle", "x", 1)
	assert.Error(t, err)
}

func TestIsBrokenConn(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), true},
		{"conn done", sql.ErrConnDone, true},
		{"mssql fatal", mssql.Error{Number: 4014, Class: 20, Message: "fatal"}, true},
		{"mssql query", mssql.Error{Number: 207, Class: 16, Message: "Invalid column name 'x'."}, false},
		{"link failure", errors.New("[08S01] Communication link failure"), true},
		{"syntax", errors.New("near \"SELEC\": syntax error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsBrokenConn(tc.err))
		})
	}
}

func TestAdaptForWarehouse(t *testing.T) {
	cases := []struct {
		in, schema, want string
	}{
		{"SELECT * FROM dbo.Ventas", "", "SELECT * FROM [gold].Ventas"},
		{"SELECT * FROM [dbo].[Ventas] v JOIN DBO.Clientes c ON 1=1", "gold", "SELECT * FROM [gold].[Ventas] v JOIN [gold].Clientes c ON 1=1"},
		{"SELECT * FROM [Dbo].x", "[silver]", "SELECT * FROM [silver].x"},
		{"SELECT turbo.x FROM gold.t", "", "SELECT turbo.x FROM gold.t"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AdaptForWarehouse(tc.in, tc.schema), tc.in)
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", Placeholder(DriverSQLite, 2))
	assert.Equal(t, "@p2", Placeholder(DriverSQLServer, 2))
}
