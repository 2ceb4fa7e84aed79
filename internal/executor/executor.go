// Package executor runs generated SQL inside scoped transactions.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/satishbabariya/schema-evolution/internal/debug"
	"github.com/satishbabariya/schema-evolution/internal/introspect"
	"github.com/satishbabariya/schema-evolution/internal/sqlgen"
)

// ErrNoDatabase is returned when a non-collecting executor has no
// connection.
var ErrNoDatabase = errors.New("executor has no database connection")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EvolutionExecutionError reports a statement the database rejected.
type EvolutionExecutionError struct {
	AppLabel  string
	Statement string
	Err       error
}

func (e *EvolutionExecutionError) Error() string {
	if e.AppLabel == "" {
		return fmt.Sprintf("Error executing SQL: %v\nStatement: %s", e.Err, e.Statement)
	}
	return fmt.Sprintf("Error applying evolution for %q: %v\nStatement: %s", e.AppLabel, e.Err, e.Statement)
}

func (e *EvolutionExecutionError) Unwrap() error { return e.Err }

// Option configures an SQLExecutor.
type Option func(*SQLExecutor)

// WithDatabase sets the logical database name used in logs.
func WithDatabase(name string) Option {
	return func(e *SQLExecutor) { e.database = name }
}

// WithCollect makes the executor record statements instead of running them.
func WithCollect() Option {
	return func(e *SQLExecutor) { e.collect = true }
}

// SQLExecutor executes statements against one database connection.
type SQLExecutor struct {
	db       *sql.DB
	provider introspect.Provider
	database string
	collect  bool

	collected []string
}

// New creates an executor. db may be nil when collecting.
func New(db *sql.DB, provider introspect.Provider, opts ...Option) *SQLExecutor {
	e := &SQLExecutor{db: db, provider: provider, database: "default"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provider returns the database engine the executor targets.
func (e *SQLExecutor) Provider() introspect.Provider { return e.provider }

// Collecting reports whether statements are recorded instead of executed.
func (e *SQLExecutor) Collecting() bool { return e.collect }

// Collected returns the statements recorded so far in collect mode.
func (e *SQLExecutor) Collected() []string {
	return append([]string(nil), e.collected...)
}

// RunOptions tunes one transaction.
type RunOptions struct {
	// CheckConstraints keeps foreign key checking immediate. When false,
	// checks are deferred to commit so interdependent tables can be created
	// in any order.
	CheckConstraints bool
}

// Run executes fn inside a transaction, committing when fn returns nil and
// rolling back otherwise. In collect mode no transaction is opened.
func (e *SQLExecutor) Run(ctx context.Context, opts RunOptions, fn func(s *Session) error) (err error) {
	if e.collect {
		return fn(&Session{ctx: ctx, e: e})
	}
	if e.db == nil {
		return ErrNoDatabase
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	s := &Session{ctx: ctx, e: e, tx: tx}
	if !opts.CheckConstraints {
		if err := s.exec(relaxConstraintsSQL(e.provider)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := fn(s); err != nil {
		_ = tx.Rollback()
		return err
	}

	if !opts.CheckConstraints {
		if err := s.exec(restoreConstraintsSQL(e.provider)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	debug.Debug("committed transaction", "database", e.database, "statements", s.count)
	return nil
}

func relaxConstraintsSQL(p introspect.Provider) []string {
	switch p {
	case introspect.SQLite:
		return []string{"PRAGMA defer_foreign_keys = ON"}
	case introspect.Postgres:
		return []string{"SET CONSTRAINTS ALL DEFERRED"}
	case introspect.MySQL:
		return []string{"SET FOREIGN_KEY_CHECKS = 0"}
	}
	return nil
}

func restoreConstraintsSQL(p introspect.Provider) []string {
	if p == introspect.MySQL {
		return []string{"SET FOREIGN_KEY_CHECKS = 1"}
	}
	return nil
}

// Session is the scope of one Run call.
type Session struct {
	ctx   context.Context
	e     *SQLExecutor
	tx    *sql.Tx
	count int
}

// Context returns the context Run was called with.
func (s *Session) Context() context.Context { return s.ctx }

// Collecting reports whether the session only records statements.
func (s *Session) Collecting() bool { return s.tx == nil }

// Tx returns the open transaction, or nil when collecting.
func (s *Session) Tx() DBTX {
	if s.tx == nil {
		return nil
	}
	return s.tx
}

// Execute runs statements on behalf of an app. Blank statements are
// skipped.
func (s *Session) Execute(appLabel string, statements []string) error {
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if s.tx == nil {
			s.e.collected = append(s.e.collected, sqlgen.Statement(stmt))
			continue
		}
		debug.Debug("executing SQL", "app", appLabel, "database", s.e.database, "sql", stmt)
		if _, err := s.tx.ExecContext(s.ctx, stmt); err != nil {
			return &EvolutionExecutionError{AppLabel: appLabel, Statement: stmt, Err: err}
		}
		s.count++
	}
	return nil
}

func (s *Session) exec(statements []string) error {
	return s.Execute("", statements)
}
