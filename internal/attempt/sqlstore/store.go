// Package sqlstore persists the quiz catalog and quiz attempts through
// database/sql. The same queries run on PostgreSQL (pgx stdlib) and SQLite
// (go-sqlite3); placeholders are numbered in order of first use so both
// drivers bind them positionally.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

type Store struct {
	db     *sql.DB
	driver Driver
}

// queryable is satisfied by *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func New(db *sql.DB, driver Driver) (*Store, error) {
	switch driver {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Driver() Driver { return s.driver }

func (s *Store) Close() error {
	return s.db.Close()
}

// forUpdate is appended to row reads inside write transactions. SQLite runs
// on a single connection, so the transaction itself is the lock.
func (s *Store) forUpdate() string {
	if s.driver == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// lockUserQuiz serialises attempt creation for one (user, quiz) pair.
func (s *Store) lockUserQuiz(ctx context.Context, tx *sql.Tx, userID, quizID string) error {
	if s.driver != Postgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID+":"+quizID); err != nil {
		return fmt.Errorf("lock attempt quota: %w", err)
	}
	return nil
}
