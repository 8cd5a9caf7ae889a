package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/querydeck/querydeck/internal/domain"
)

// Introspector reads table and column metadata for one SQL dialect.
type Introspector interface {
	Tables(ctx context.Context, db *sql.DB) ([]string, error)
	Columns(ctx context.Context, db *sql.DB) (domain.DatabaseSchema, error)
}

// IntrospectorFor returns the introspector of a driver.
func IntrospectorFor(driver domain.Driver) (Introspector, error) {
	switch driver {
	case domain.DriverPostgres, "":
		return infoSchema{
			tables: `
				SELECT table_name
				FROM information_schema.tables
				WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
				ORDER BY table_name`,
			columns: `
				SELECT table_name, column_name, data_type, is_nullable,
					character_maximum_length, numeric_precision
				FROM information_schema.columns
				WHERE table_schema = 'public'
				ORDER BY table_name, ordinal_position`,
		}, nil
	case domain.DriverMySQL:
		return infoSchema{
			tables: `
				SELECT table_name
				FROM information_schema.tables
				WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
				ORDER BY table_name`,
			columns: `
				SELECT table_name, column_name, data_type, is_nullable,
					character_maximum_length, numeric_precision
				FROM information_schema.columns
				WHERE table_schema = DATABASE()
				ORDER BY table_name, ordinal_position`,
		}, nil
	case domain.DriverSQLite:
		return sqliteSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// infoSchema introspects through information_schema (postgres, mysql).
type infoSchema struct {
	tables  string
	columns string
}

func (s infoSchema) Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, s.tables)
}

func (s infoSchema) Columns(ctx context.Context, db *sql.DB) (domain.DatabaseSchema, error) {
	rows, err := db.QueryContext(ctx, s.columns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(domain.DatabaseSchema)
	for rows.Next() {
		var table, nullable string
		var maxLen, precision sql.NullInt64
		var col domain.SchemaColumn
		if err := rows.Scan(&table, &col.Name, &col.DataType, &nullable, &maxLen, &precision); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		if maxLen.Valid {
			v := maxLen.Int64
			col.MaxLength = &v
		}
		if precision.Valid {
			v := precision.Int64
			col.NumericPrecision = &v
		}
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

// sqliteSchema introspects through sqlite_master and pragma_table_info.
type sqliteSchema struct{}

func (sqliteSchema) Tables(ctx context.Context, db *sql.DB) ([]string, error) {
	return queryStrings(ctx, db, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
}

func (sqliteSchema) Columns(ctx context.Context, db *sql.DB) (domain.DatabaseSchema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.name, p.name, p.type, p."notnull"
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(domain.DatabaseSchema)
	for rows.Next() {
		var table string
		var notNull int
		var col domain.SchemaColumn
		if err := rows.Scan(&table, &col.Name, &col.DataType, &notNull); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		out[table] = append(out[table], col)
	}
	return out, rows.Err()
}

func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
