package introspect

import (
	"context"
	"database/sql"
	"fmt"
)

// MySQLIntrospector implements introspection for MySQL
type MySQLIntrospector struct {
	db *sql.DB
}

// Tables reads every base table of the current database.
func (i *MySQLIntrospector) Tables(ctx context.Context) ([]Table, error) {
	var dbName string
	if err := i.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&dbName); err != nil {
		return nil, fmt.Errorf("failed to get database name: %w", err)
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := i.db.QueryContext(ctx, query, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table := Table{Name: name}
		if table.Indexes, err = i.indexes(ctx, dbName, name); err != nil {
			return nil, fmt.Errorf("failed to introspect indexes for %s: %w", name, err)
		}
		if table.ForeignKeys, err = i.foreignKeys(ctx, dbName, name); err != nil {
			return nil, fmt.Errorf("failed to introspect foreign keys for %s: %w", name, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (i *MySQLIntrospector) indexes(ctx context.Context, schema, tableName string) ([]Index, error) {
	query := `
		SELECT 
			index_name,
			GROUP_CONCAT(column_name ORDER BY seq_in_index) as columns,
			MAX(non_unique) as is_non_unique
		FROM information_schema.statistics
		WHERE table_schema = ?
		  AND table_name = ?
		  AND index_name != 'PRIMARY'
		GROUP BY index_name
		ORDER BY index_name
	`

	rows, err := i.db.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		var columns string
		var nonUnique int
		if err := rows.Scan(&idx.Name, &columns, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		idx.Columns = splitList(columns)
		idx.IsUnique = nonUnique == 0
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (i *MySQLIntrospector) foreignKeys(ctx context.Context, schema, tableName string) ([]ForeignKey, error) {
	query := `
		SELECT 
			constraint_name,
			GROUP_CONCAT(column_name ORDER BY ordinal_position) as columns,
			referenced_table_name,
			GROUP_CONCAT(referenced_column_name ORDER BY ordinal_position) as referenced_columns
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		  AND table_name = ?
		  AND referenced_table_name IS NOT NULL
		GROUP BY constraint_name, referenced_table_name
		ORDER BY constraint_name
	`

	rows, err := i.db.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var columns, refColumns string
		if err := rows.Scan(&fk.Name, &columns, &fk.ReferencedTable, &refColumns); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fk.Columns = splitList(columns)
		fk.ReferencedColumns = splitList(refColumns)
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
