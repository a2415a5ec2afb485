package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Driver names accepted by OpenDB.
const (
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

// OpenDB opens a database handle whose own pooling is disabled, so every
// *sql.Conn handed out by SQLFactory is a dedicated physical connection that
// is really closed by Close.
func OpenDB(driverName, dsn string, maxSize int) (*sql.DB, error) {
	switch driverName {
	case DriverSQLite, DriverSQLServer:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driverName)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxIdleConns(0)
	if maxSize > 0 {
		db.SetMaxOpenConns(maxSize)
	}
	return db, nil
}

// SQLFactory returns a Factory producing dedicated connections from db.
func SQLFactory(db *sql.DB) Factory[*sql.Conn] {
	return func(ctx context.Context) (*sql.Conn, error) {
		return db.Conn(ctx)
	}
}

// PingConn is a Checker that pings the connection.
func PingConn(ctx context.Context, c *sql.Conn) error {
	return c.PingContext(ctx)
}

// SelectOne is a Checker that runs SELECT 1.
func SelectOne(ctx context.Context, c *sql.Conn) error {
	var one int
	if err := c.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("unexpected health check result %d", one)
	}
	return nil
}

// NewSQL opens a pool of dedicated connections over db, pinging idle
// connections on acquire and running SELECT 1 as the health check.
func NewSQL(ctx context.Context, db *sql.DB, optFns ...func(o *Options[*sql.Conn])) *Pool[*sql.Conn] {
	fns := append([]func(o *Options[*sql.Conn]){func(o *Options[*sql.Conn]) {
		o.Ping = PingConn
		o.Health = SelectOne
	}}, optFns...)
	return New(ctx, SQLFactory(db), fns...)
}

// IsBrokenConn reports whether err means the connection itself is unusable,
// as opposed to a query-level failure.
func IsBrokenConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	// SQL Server severity 20 and above terminates the connection.
	var msErr mssql.Error
	if errors.As(err, &msErr) && msErr.Class >= 20 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "communication link failure") || strings.Contains(msg, "connection reset")
}

// Placeholder returns the n-th (1-based) bind parameter marker for driver.
func Placeholder(driverName string, n int) string {
	if driverName == DriverSQLServer {
		return fmt.Sprintf("@p%d", n)
	}
	return "?"
}
