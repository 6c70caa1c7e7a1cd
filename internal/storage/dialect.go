package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect holds everything that differs between the supported SQL products.
type dialect struct {
	typ          DatabaseType
	columnTypes  map[ColumnKind]string
	tableOptions string
	numbered     bool
	// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes are declared
	// inside CREATE TABLE IF NOT EXISTS instead.
	inlineIndexes bool
}

var dialects = map[DatabaseType]dialect{
	SQLite: {
		typ: SQLite,
		columnTypes: map[ColumnKind]string{
			HashColumn:   "TEXT",
			BlobColumn:   "TEXT",
			Uint32Column: "INTEGER",
			Uint64Column: "INTEGER",
		},
	},
	MySQL: {
		typ: MySQL,
		columnTypes: map[ColumnKind]string{
			HashColumn:   "VARCHAR(64)",
			BlobColumn:   "TEXT",
			Uint32Column: "INT UNSIGNED",
			Uint64Column: "BIGINT UNSIGNED",
		},
		tableOptions:  "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		inlineIndexes: true,
	},
	Postgres: {
		typ: Postgres,
		columnTypes: map[ColumnKind]string{
			HashColumn:   "VARCHAR(64)",
			BlobColumn:   "TEXT",
			Uint32Column: "BIGINT",
			Uint64Column: "BIGINT",
		},
		numbered: true,
	},
}

func dialectFor(typ DatabaseType) (dialect, error) {
	d, ok := dialects[typ]
	if !ok {
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedBackend, typ)
	}
	return d, nil
}

func (d dialect) columnType(kind ColumnKind) string {
	if t, ok := d.columnTypes[kind]; ok {
		return t
	}
	return d.columnTypes[BlobColumn]
}

// rebind rewrites "?" placeholders to "$n" for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (d dialect) multiInsert(table string, columns []string, values [][]interface{}) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("insert into %s: %w", table, ErrEmptyStatement)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args, err := writeValueRows(&b, table, len(columns), values)
	if err != nil {
		return Statement{}, err
	}

	return Statement{Query: b.String(), Args: args}, nil
}

func (d dialect) multiUpdate(table string, primaryKey []string, columns []string, values [][]interface{}) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("upsert into %s: %w", table, ErrEmptyStatement)
	}
	if len(primaryKey) == 0 {
		return Statement{}, fmt.Errorf("upsert into %s: primary key required", table)
	}

	all := make([]string, 0, len(primaryKey)+len(columns))
	all = append(all, primaryKey...)
	all = append(all, columns...)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(all, ", "))

	args, err := writeValueRows(&b, table, len(all), values)
	if err != nil {
		return Statement{}, err
	}

	updates := make([]string, len(columns))
	switch d.typ {
	case MySQL:
		for i, col := range columns {
			updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
		}
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
	default:
		for i, col := range columns {
			updates[i] = fmt.Sprintf("%s = excluded.%s", col, col)
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(primaryKey, ", "))
	}
	b.WriteString(strings.Join(updates, ", "))

	return Statement{Query: b.String(), Args: args}, nil
}

func writeValueRows(b *strings.Builder, table string, width int, values [][]interface{}) ([]interface{}, error) {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	args := make([]interface{}, 0, width*len(values))

	for i, row := range values {
		if len(row) != width {
			return nil, fmt.Errorf("%s row %d: expected %d values, got %d", table, i, width, len(row))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}

	return args, nil
}

func (d dialect) createTable(table string, columns []Column, primaryKey []string, indexes []string) TableSchema {
	defs := make([]string, 0, len(columns)+len(primaryKey)+2)
	var foreign []string

	for _, col := range columns {
		def := col.Name + " " + d.columnType(col.Kind)
		if col.Default != nil {
			def += " DEFAULT " + sqlLiteral(col.Default)
		}
		for _, pk := range primaryKey {
			if pk == col.Name {
				def += " NOT NULL"
				break
			}
		}
		defs = append(defs, def)

		if col.Foreign != nil {
			fk := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", col.Name, col.Foreign.Table, col.Foreign.Column)
			if col.Foreign.Delete != "" {
				fk += " ON DELETE " + string(col.Foreign.Delete)
			}
			if col.Foreign.Update != "" {
				fk += " ON UPDATE " + string(col.Foreign.Update)
			}
			foreign = append(foreign, fk)
		}
	}

	if len(primaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKey, ", ")))
	}
	if d.inlineIndexes {
		for _, col := range indexes {
			defs = append(defs, fmt.Sprintf("INDEX %s (%s)", indexName(table, col), col))
		}
	}
	defs = append(defs, foreign...)

	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
	if d.tableOptions != "" {
		create += " " + d.tableOptions
	}

	schema := TableSchema{Table: create}
	if d.inlineIndexes {
		return schema
	}
	for _, col := range indexes {
		schema.Indexes = append(schema.Indexes,
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName(table, col), table, col))
	}

	return schema
}

func indexName(table, column string) string {
	return table + "_" + column + "_idx"
}

func sqlLiteral(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(typed, "'", "''") + "'"
	case bool:
		if typed {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(typed)
	}
}
