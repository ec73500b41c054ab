package sqlstore

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS quizzes (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		start_date TIMESTAMPTZ NULL,
		end_date TIMESTAMPTZ NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		max_attempt INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_questions (
		id UUID PRIMARY KEY,
		quiz_id UUID NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_options (
		id UUID PRIMARY KEY,
		question_id UUID NOT NULL REFERENCES quiz_questions(id) ON DELETE CASCADE,
		is_correct BOOLEAN NOT NULL DEFAULT FALSE,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'STUDENT'
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_attempts (
		id UUID PRIMARY KEY,
		quiz_id UUID NOT NULL REFERENCES quizzes(id),
		user_id UUID NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		start_at TIMESTAMPTZ NOT NULL,
		finish_at TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quiz_attempt_question_answers (
		attempt_id UUID NOT NULL REFERENCES quiz_attempts(id) ON DELETE CASCADE,
		quiz_question_id UUID NOT NULL,
		quiz_option_answer_id UUID NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (attempt_id, quiz_question_id, quiz_option_answer_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_questions_quiz ON quiz_questions(quiz_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_options_question ON quiz_options(question_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_attempts_quiz_user ON quiz_attempts(quiz_id, user_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		start_date TIMESTAMP NULL,
		end_date TIMESTAMP NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		max_attempt INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS quiz_questions (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
		position INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS quiz_options (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL REFERENCES quiz_questions(id) ON DELETE CASCADE,
		is_correct BOOLEAN NOT NULL DEFAULT 0,
		position INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'STUDENT'
	);`,
	`CREATE TABLE IF NOT EXISTS quiz_attempts (
		id TEXT PRIMARY KEY,
		quiz_id TEXT NOT NULL REFERENCES quizzes(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		status TEXT NOT NULL,
		start_at TIMESTAMP NOT NULL,
		finish_at TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS quiz_attempt_question_answers (
		attempt_id TEXT NOT NULL REFERENCES quiz_attempts(id) ON DELETE CASCADE,
		quiz_question_id TEXT NOT NULL,
		quiz_option_answer_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (attempt_id, quiz_question_id, quiz_option_answer_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_questions_quiz ON quiz_questions(quiz_id, position);`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_options_question ON quiz_options(question_id, position);`,
	`CREATE INDEX IF NOT EXISTS idx_quiz_attempts_quiz_user ON quiz_attempts(quiz_id, user_id);`,
}

// EnsureSchema creates the tables the store reads and writes when they do
// not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.driver == Postgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
