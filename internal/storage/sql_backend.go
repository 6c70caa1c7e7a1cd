package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/config"
)

// SQLBackend implements Backend on top of database/sql.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// Open connects to the database selected by cfg.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*SQLBackend, error) {
	typ := DatabaseType(cfg.Backend)
	driver, dsn, err := dataSource(typ, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", typ, err)
	}
	if cfg.MaxOpenConns > 0 && typ != SQLite {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	backend, err := NewSQLBackend(db, typ, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

// NewSQLBackend wraps an already opened *sql.DB. SQLite handles are limited
// to a single connection with foreign keys enforced.
func NewSQLBackend(db *sql.DB, typ DatabaseType, logger *zap.Logger) (*SQLBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dialectFor(typ)
	if err != nil {
		return nil, err
	}

	if typ == SQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	return &SQLBackend{db: db, dialect: d, logger: logger}, nil
}

func dataSource(typ DatabaseType, cfg config.DatabaseConfig) (driver string, dsn string, err error) {
	switch typ {
	case SQLite:
		return "sqlite", cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
		mc.Timeout = 10 * time.Second
		return "mysql", mc.FormatDSN(), nil
	case Postgres:
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name), nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, typ)
	}
}

func (b *SQLBackend) Type() DatabaseType {
	return b.dialect.typ
}

func (b *SQLBackend) Query(ctx context.Context, query string, args ...interface{}) (int64, []Row, error) {
	query = b.dialect.rebind(query)

	if !returnsRows(query) {
		res, err := b.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, nil, fmt.Errorf("rows affected: %w", err)
		}
		return affected, nil, nil
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return 0, nil, err
	}
	return int64(len(result)), result, nil
}

// Transaction acquires one pooled connection, begins, runs every statement in
// order and commits. Any failure rolls back and returns the first error. The
// connection is released exactly once on every path.
func (b *SQLBackend) Transaction(ctx context.Context, stmts []Statement) (err error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			b.logger.Warn("release connection failed", zap.Error(closeErr))
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for i, stmt := range stmts {
		if _, execErr := tx.ExecContext(ctx, b.dialect.rebind(stmt.Query), stmt.Args...); execErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				b.logger.Warn("rollback failed", zap.Int("statement", i), zap.Error(rbErr))
			}
			return fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *SQLBackend) PrepareMultiInsert(table string, columns []string, values [][]interface{}) (Statement, error) {
	return b.dialect.multiInsert(table, columns, values)
}

func (b *SQLBackend) PrepareMultiUpdate(table string, primaryKey []string, columns []string, values [][]interface{}) (Statement, error) {
	return b.dialect.multiUpdate(table, primaryKey, columns, values)
}

func (b *SQLBackend) PrepareCreateTable(table string, columns []Column, primaryKey []string, indexes ...string) TableSchema {
	return b.dialect.createTable(table, columns, primaryKey, indexes)
}

func (b *SQLBackend) ColumnType(kind ColumnKind) string {
	return b.dialect.columnType(kind)
}

func (b *SQLBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func returnsRows(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") || strings.HasPrefix(head, "PRAGMA")
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	keys := make([]string, len(columns))
	for i, col := range columns {
		keys[i] = strings.ToLower(col)
	}

	var result []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, key := range keys {
			row[key] = values[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
