package runner

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lina-go/backend-delfos-sub000/config"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/engine"
	"github.com/Lina-go/backend-delfos-sub000/model"
	"github.com/Lina-go/backend-delfos-sub000/schema"
	"github.com/Lina-go/backend-delfos-sub000/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Warehouse.Driver = "sqlite"
	cfg.Warehouse.DSN = filepath.Join(dir, "warehouse.db")
	cfg.Warehouse.MaxSize = 2
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = filepath.Join(dir, "delfos.db")
	cfg.Database.MaxSize = 1
	cfg.Embedding.Provider = ""
	cfg.SQL.WarehouseSchema = ""
	cfg.Retry.MaxRetries = 0
	return cfg
}

func seedWarehouse(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE saldos (banco TEXT, saldo REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO saldos VALUES ('Banco A', 120.5), ('Banco B', 80.0), ('Banco C', 42.0)`)
	require.NoError(t, err)
}

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.NewCatalog(schema.Table{
		Name:        "main.saldos",
		Description: "Saldo de cartera por banco",
		Concepts:    []string{"saldo"},
	})
	require.NoError(t, err)
	return c
}

func TestRunner_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	seedWarehouse(t, cfg.Warehouse.DSN)

	m := model.NewMockModel("mock", "test").
		AddReply(`{"query_type": "data_question", "reasoning": "pide datos"}`).
		AddReply(`{"intent": "requiere_visualizacion", "sub_type": "ranking", "titulo_grafica": "Saldo por banco"}`).
		AddReply("```json\n{\"sql\": \"SELECT banco, saldo FROM main.saldos ORDER BY saldo DESC\", \"tablas\": [\"main.saldos\"]}\n```")

	ctx := context.Background()
	r, err := New(ctx, cfg, func(o *Options) {
		o.Model = m
		o.Catalog = testCatalog(t)
	})
	require.NoError(t, err)

	resp, err := r.Engine().Process(ctx, engine.Request{UserID: "u1", Message: "ranking del saldo por banco"})
	require.NoError(t, err)

	assert.Equal(t, "ranking", resp.SubType)
	assert.Equal(t, 3, resp.RowCount)
	assert.True(t, resp.Verified)
	assert.Equal(t, core.OutputBar, resp.OutputKind)
	assert.Equal(t, engine.VisualYes, resp.Visual)
	assert.Equal(t, "Banco A", resp.Data[0]["banco"])
	assert.Equal(t, []string{"main.saldos"}, resp.Tables)
	assert.Equal(t, 3, m.Calls())

	require.Len(t, r.PoolStats(), 2)
	require.NoError(t, r.HealthCheck(ctx))
	inFlight, capacity := r.ModelGate()
	assert.Zero(t, inFlight)
	assert.Equal(t, 2, capacity)

	require.NoError(t, r.Close(ctx))
	for _, st := range r.PoolStats() {
		assert.Zero(t, st.Total, st.Name)
		assert.Zero(t, st.Available, st.Name)
	}

	db, err := sql.Open("sqlite", cfg.Database.DSN)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+session.DefaultTurnsTable).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRunner_ZeroRowCeilingReadsAllRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQL.RowCeiling = 0
	seedWarehouse(t, cfg.Warehouse.DSN)

	m := model.NewMockModel("mock", "test").
		AddReply(`{"query_type": "data_question", "reasoning": "pide datos"}`).
		AddReply(`{"intent": "requiere_visualizacion", "sub_type": "ranking", "titulo_grafica": "Saldo por banco"}`).
		AddReply(`{"sql": "SELECT banco, saldo FROM main.saldos ORDER BY saldo DESC", "tablas": ["main.saldos"]}`)

	ctx := context.Background()
	r, err := New(ctx, cfg, func(o *Options) {
		o.Model = m
		o.Catalog = testCatalog(t)
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close(ctx)) }()

	resp, err := r.Engine().Process(ctx, engine.Request{UserID: "u1", Message: "ranking del saldo por banco"})
	require.NoError(t, err)
	assert.True(t, resp.Verified)
	assert.Equal(t, 3, resp.RowCount)
	assert.Len(t, resp.Data, 3)
}

func TestRunner_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQL.MaxRetries = 0

	_, err := New(context.Background(), cfg, func(o *Options) { o.Model = model.NewMockModel("mock", "test") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sql.max_retries")
}

func TestRunner_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.Driver = "postgres"

	_, err := New(context.Background(), cfg, func(o *Options) {
		o.Model = model.NewMockModel("mock", "test")
		o.Catalog = testCatalog(t)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
