// Package introspect reads the tables, indexes and foreign keys that
// currently exist in a live database.
package introspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedProvider is returned for engines no evolution can target.
	ErrUnsupportedProvider = errors.New("no evolution support for database engine")
	// ErrSchemaUnreadable wraps every failure to scan a live schema.
	ErrSchemaUnreadable = errors.New("unable to read the live database schema")
)

// Introspector scans a database's tables.
type Introspector interface {
	Tables(ctx context.Context) ([]Table, error)
}

// Scan reads the tables of a live database through in.
func Scan(ctx context.Context, in Introspector) ([]Table, error) {
	tables, err := in.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaUnreadable, err)
	}
	return tables, nil
}

// Table is one base table with the structures evolutions care about.
type Table struct {
	Name        string
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// Index is a non-primary index or unique constraint.
type Index struct {
	Name     string
	Columns  []string
	IsUnique bool
}

// ForeignKey is a foreign key constraint.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Provider names a supported database engine.
type Provider string

const (
	SQLite   Provider = "sqlite"
	Postgres Provider = "postgres"
	MySQL    Provider = "mysql"
)

// ParseProvider normalizes a provider name and its common aliases.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
}

// DriverName returns the database/sql driver registered for the provider.
func (p Provider) DriverName() string {
	switch p {
	case SQLite:
		return "sqlite3"
	case Postgres:
		return "postgres"
	default:
		return string(p)
	}
}

// NewIntrospector creates an introspector for the given provider.
func NewIntrospector(db *sql.DB, provider Provider) (Introspector, error) {
	switch provider {
	case Postgres:
		return &PostgresIntrospector{db: db}, nil
	case MySQL:
		return &MySQLIntrospector{db: db}, nil
	case SQLite:
		return &SQLiteIntrospector{db: db}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

func splitList(s string) []string {
	s = strings.Trim(s, "{}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(p, `"`)
	}
	return parts
}
