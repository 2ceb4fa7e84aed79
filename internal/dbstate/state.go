// Package dbstate tracks the tables and indexes believed to exist in a
// database while evolutions run.
package dbstate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/signature"
)

// ErrDatabaseState is the base error for inconsistent bookkeeping.
var ErrDatabaseState = errors.New("database state error")

// DatabaseStateError reports an index or table operation that does not
// match the tracked state.
type DatabaseStateError struct {
	Msg string
}

func (e *DatabaseStateError) Error() string { return e.Msg }

// Is reports whether target is ErrDatabaseState.
func (e *DatabaseStateError) Is(target error) bool { return target == ErrDatabaseState }

func stateErrorf(format string, args ...any) error {
	return &DatabaseStateError{Msg: fmt.Sprintf(format, args...)}
}

// IndexState is an index recorded in the state.
type IndexState struct {
	Name    string
	Columns []string
	Unique  bool
}

// Equal compares two index states.
func (i IndexState) Equal(other IndexState) bool {
	if i.Name != other.Name || i.Unique != other.Unique || len(i.Columns) != len(other.Columns) {
		return false
	}
	for n := range i.Columns {
		if i.Columns[n] != other.Columns[n] {
			return false
		}
	}
	return true
}

// ForeignKeyState is a foreign key constraint recorded in the state.
type ForeignKeyState struct {
	Name             string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

type tableState struct {
	indexOrder  []string
	indexes     map[string]IndexState
	foreignKeys []ForeignKeyState
}

func newTableState() *tableState {
	return &tableState{indexes: make(map[string]IndexState)}
}

// DatabaseState is the tracked view of one database.
type DatabaseState struct {
	DBName string
	tables map[string]*tableState
}

// New creates an empty state for the named database.
func New(dbName string) *DatabaseState {
	return &DatabaseState{DBName: dbName, tables: make(map[string]*tableState)}
}

// Clone returns a deep copy.
func (s *DatabaseState) Clone() *DatabaseState {
	c := New(s.DBName)
	for name, t := range s.tables {
		ct := newTableState()
		ct.indexOrder = append([]string(nil), t.indexOrder...)
		for k, idx := range t.indexes {
			idx.Columns = append([]string(nil), idx.Columns...)
			ct.indexes[k] = idx
		}
		ct.foreignKeys = append([]ForeignKeyState(nil), t.foreignKeys...)
		c.tables[name] = ct
	}
	return c
}

// AddTable starts tracking a table with no indexes.
func (s *DatabaseState) AddTable(table string) {
	s.tables[table] = newTableState()
}

// RemoveTable stops tracking a table.
func (s *DatabaseState) RemoveTable(table string) {
	delete(s.tables, table)
}

// RenameTable moves a tracked table's state to a new name.
func (s *DatabaseState) RenameTable(oldName, newName string) {
	if t, ok := s.tables[oldName]; ok {
		delete(s.tables, oldName)
		s.tables[newName] = t
	}
}

// HasTable reports whether a table is tracked.
func (s *DatabaseState) HasTable(table string) bool {
	_, ok := s.tables[table]
	return ok
}

// HasModel reports whether the model's table is tracked. An auto-created
// association model also counts as present when its owner's table is.
func (s *DatabaseState) HasModel(model *signature.ModelSignature) bool {
	return s.HasTable(model.TableName) || (model.OwnerTable != "" && s.HasTable(model.OwnerTable))
}

// TableNames returns tracked tables, sorted.
func (s *DatabaseState) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddIndex records an index on a tracked table.
func (s *DatabaseState) AddIndex(table, indexName string, columns []string, unique bool) error {
	t, ok := s.tables[table]
	if !ok {
		return stateErrorf("Unable to add index %q to table %q. The table is not being tracked in the database state.",
			indexName, table)
	}
	if _, exists := t.indexes[indexName]; exists {
		return stateErrorf("Unable to add index %q to table %q. This index already exists.", indexName, table)
	}
	t.indexes[indexName] = IndexState{
		Name:    indexName,
		Columns: append([]string(nil), columns...),
		Unique:  unique,
	}
	t.indexOrder = append(t.indexOrder, indexName)
	return nil
}

// RemoveIndex forgets an index. The uniqueness flag must match.
func (s *DatabaseState) RemoveIndex(table, indexName string, unique bool) error {
	t, ok := s.tables[table]
	if !ok {
		return stateErrorf("Unable to remove index %q from table %q. The table is not being tracked in the database state.",
			indexName, table)
	}
	existing, ok := t.indexes[indexName]
	if !ok {
		return stateErrorf("Unable to remove index %q from table %q. The index could not be found.", indexName, table)
	}
	if existing.Unique != unique {
		return stateErrorf("Unable to remove index %q from table %q. The specified index type (unique=%t) does not match the existing type (unique=%t).",
			indexName, table, unique, existing.Unique)
	}
	delete(t.indexes, indexName)
	for i, name := range t.indexOrder {
		if name == indexName {
			t.indexOrder = append(t.indexOrder[:i:i], t.indexOrder[i+1:]...)
			break
		}
	}
	return nil
}

// GetIndex returns an index by name.
func (s *DatabaseState) GetIndex(table, indexName string) (IndexState, bool) {
	t, ok := s.tables[table]
	if !ok {
		return IndexState{}, false
	}
	idx, ok := t.indexes[indexName]
	return idx, ok
}

// FindIndex returns the first index with exactly these columns and
// uniqueness.
func (s *DatabaseState) FindIndex(table string, columns []string, unique bool) (IndexState, bool) {
	for _, idx := range s.Indexes(table) {
		if idx.Unique == unique && idx.Equal(IndexState{Name: idx.Name, Columns: columns, Unique: unique}) {
			return idx, true
		}
	}
	return IndexState{}, false
}

// ClearIndexes forgets every index on a table. Untracked tables are ignored.
func (s *DatabaseState) ClearIndexes(table string) {
	if t, ok := s.tables[table]; ok {
		t.indexes = make(map[string]IndexState)
		t.indexOrder = nil
	}
}

// Indexes returns the indexes of a table in the order they were added.
func (s *DatabaseState) Indexes(table string) []IndexState {
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]IndexState, 0, len(t.indexOrder))
	for _, name := range t.indexOrder {
		out = append(out, t.indexes[name])
	}
	return out
}

// SetForeignKeys replaces the recorded foreign keys of a tracked table.
func (s *DatabaseState) SetForeignKeys(table string, fks []ForeignKeyState) {
	if t, ok := s.tables[table]; ok {
		t.foreignKeys = append([]ForeignKeyState(nil), fks...)
	}
}

// FindForeignKey returns the constraint on table.column, if recorded.
func (s *DatabaseState) FindForeignKey(table, column string) (ForeignKeyState, bool) {
	t, ok := s.tables[table]
	if !ok {
		return ForeignKeyState{}, false
	}
	for _, fk := range t.foreignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKeyState{}, false
}

// Rescan rebuilds the state from a live database. Tables already tracked
// have their indexes replaced.
func (s *DatabaseState) Rescan(ctx context.Context, in introspect.Introspector) error {
	tables, err := introspect.Scan(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to rescan tables: %w", err)
	}
	for _, table := range tables {
		if s.HasTable(table.Name) {
			s.ClearIndexes(table.Name)
		} else {
			s.AddTable(table.Name)
		}
		for _, idx := range table.Indexes {
			if err := s.AddIndex(table.Name, idx.Name, idx.Columns, idx.IsUnique); err != nil {
				return err
			}
		}
		var fks []ForeignKeyState
		for _, fk := range table.ForeignKeys {
			if len(fk.Columns) != 1 || len(fk.ReferencedColumns) != 1 {
				continue
			}
			fks = append(fks, ForeignKeyState{
				Name:             fk.Name,
				Column:           fk.Columns[0],
				ReferencedTable:  fk.ReferencedTable,
				ReferencedColumn: fk.ReferencedColumns[0],
			})
		}
		s.SetForeignKeys(table.Name, fks)
	}
	return nil
}

// RenameColumn rewrites a column name in the recorded indexes and foreign
// keys of a table.
func (s *DatabaseState) RenameColumn(table, oldColumn, newColumn string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	for name, idx := range t.indexes {
		cols := make([]string, len(idx.Columns))
		for i, col := range idx.Columns {
			if col == oldColumn {
				col = newColumn
			}
			cols[i] = col
		}
		idx.Columns = cols
		t.indexes[name] = idx
	}
	for i, fk := range t.foreignKeys {
		if fk.Column == oldColumn {
			t.foreignKeys[i].Column = newColumn
		}
	}
}

// DropColumn forgets every index and foreign key that covers the column.
func (s *DatabaseState) DropColumn(table, column string) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	order := t.indexOrder[:0:0]
	for _, name := range t.indexOrder {
		if containsString(t.indexes[name].Columns, column) {
			delete(t.indexes, name)
			continue
		}
		order = append(order, name)
	}
	t.indexOrder = order

	fks := t.foreignKeys[:0:0]
	for _, fk := range t.foreignKeys {
		if fk.Column != column {
			fks = append(fks, fk)
		}
	}
	t.foreignKeys = fks
}

// AddForeignKey records a foreign key, replacing any on the same column.
func (s *DatabaseState) AddForeignKey(table string, fk ForeignKeyState) {
	t, ok := s.tables[table]
	if !ok {
		return
	}
	for i, existing := range t.foreignKeys {
		if existing.Column == fk.Column {
			t.foreignKeys[i] = fk
			return
		}
	}
	t.foreignKeys = append(t.foreignKeys, fk)
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
