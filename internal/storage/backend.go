package storage

import (
	"context"
	"errors"
)

// DatabaseType identifies the SQL dialect spoken by a Backend.
type DatabaseType string

const (
	SQLite   DatabaseType = "sqlite"
	MySQL    DatabaseType = "mysql"
	Postgres DatabaseType = "postgres"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported database backend")
	ErrEmptyStatement     = errors.New("statement has no rows")
)

// ColumnKind is a portable column type resolved to a concrete SQL type by
// each dialect.
type ColumnKind int

const (
	HashColumn ColumnKind = iota
	BlobColumn
	Uint32Column
	Uint64Column
)

// FKAction is the referential action of a foreign key.
type FKAction string

const (
	FKCascade  FKAction = "CASCADE"
	FKRestrict FKAction = "RESTRICT"
	FKSetNull  FKAction = "SET NULL"
	FKNoAction FKAction = "NO ACTION"
)

type ForeignKey struct {
	Table  string
	Column string
	Delete FKAction
	Update FKAction
}

type Column struct {
	Name    string
	Kind    ColumnKind
	Default interface{}
	Foreign *ForeignKey
}

// TableSchema is the DDL needed to create one table and its indexes.
type TableSchema struct {
	Table   string
	Indexes []string
}

// Statement is a parameterized SQL statement. Placeholders are written as
// "?" and rebound by the backend for dialects that need numbered ones.
type Statement struct {
	Query string
	Args  []interface{}
}

// Backend is the only database capability the monitor depends on.
type Backend interface {
	Type() DatabaseType

	// Query runs a single statement. For row-returning statements the count is
	// the number of rows; otherwise it is the number of affected rows.
	Query(ctx context.Context, query string, args ...interface{}) (int64, []Row, error)

	// Transaction executes stmts in order on one pooled connection and commits
	// only if every statement succeeds.
	Transaction(ctx context.Context, stmts []Statement) error

	PrepareMultiInsert(table string, columns []string, values [][]interface{}) (Statement, error)

	// PrepareMultiUpdate builds an upsert. Each value row holds the primary
	// key columns followed by columns.
	PrepareMultiUpdate(table string, primaryKey []string, columns []string, values [][]interface{}) (Statement, error)

	PrepareCreateTable(table string, columns []Column, primaryKey []string, indexes ...string) TableSchema

	ColumnType(kind ColumnKind) string

	Ping(ctx context.Context) error
	Close() error
}
