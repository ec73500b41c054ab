package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lmsquiz/internal/attempt"

	"github.com/google/uuid"
)

const attemptColumns = `id, quiz_id, user_id, status, start_at, finish_at, created_at`

func (s *Store) FindAttempts(ctx context.Context, filter attempt.Filter) ([]attempt.Attempt, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts` + where + ` ORDER BY ` + filter.OrderClause()
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]attempt.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	_ = rows.Close()

	if err := s.loadAnswers(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountAttempts(ctx context.Context, filter attempt.Filter) (int, error) {
	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quiz_attempts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (attempt.Attempt, error) {
	return s.getAttempt(ctx, s.db, id)
}

func (s *Store) CreateAttempt(ctx context.Context, a attempt.Attempt, maxAttempt int) (attempt.Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attempt.Attempt{}, fmt.Errorf("begin create tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.lockUserQuiz(ctx, tx, a.UserID.String(), a.QuizID.String()); err != nil {
		return attempt.Attempt{}, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM quiz_attempts
		WHERE quiz_id = $1 AND user_id = $2
	`, a.QuizID, a.UserID).Scan(&count); err != nil {
		return attempt.Attempt{}, fmt.Errorf("count user attempts: %w", err)
	}
	if count >= maxAttempt {
		return attempt.Attempt{}, attempt.ErrMaxAttemptsReached
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quiz_attempts (id, quiz_id, user_id, status, start_at, finish_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.QuizID, a.UserID, string(a.Status), a.StartAt.UTC(), timeArg(a.FinishAt), a.CreatedAt.UTC()); err != nil {
		return attempt.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	if err := insertAnswers(ctx, tx, a.ID, a.Answers); err != nil {
		return attempt.Attempt{}, err
	}

	created, err := s.getAttempt(ctx, tx, a.ID)
	if err != nil {
		return attempt.Attempt{}, err
	}
	if err := tx.Commit(); err != nil {
		return attempt.Attempt{}, fmt.Errorf("commit create tx: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateAttempt(ctx context.Context, id uuid.UUID, upd attempt.AttemptUpdate) (attempt.Attempt, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attempt.Attempt{}, false, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM quiz_attempts WHERE id = $1`+s.forUpdate(), id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt.Attempt{}, false, attempt.ErrAttemptNotFound
		}
		return attempt.Attempt{}, false, fmt.Errorf("lock attempt: %w", err)
	}

	if upd.ReplaceAnswers {
		if attempt.Status(status) != attempt.StatusOnProgress {
			return attempt.Attempt{}, false, attempt.ErrAttemptFinished
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_attempt_question_answers WHERE attempt_id = $1`, id); err != nil {
			return attempt.Attempt{}, false, fmt.Errorf("clear answers: %w", err)
		}
		if err := insertAnswers(ctx, tx, id, upd.Answers); err != nil {
			return attempt.Attempt{}, false, err
		}
	}

	finished := false
	if upd.FinishAt != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE quiz_attempts
			SET status = $1, finish_at = $2
			WHERE id = $3 AND status = $4
		`, string(attempt.StatusFinished), upd.FinishAt.UTC(), id, string(attempt.StatusOnProgress))
		if err != nil {
			return attempt.Attempt{}, false, fmt.Errorf("finish attempt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return attempt.Attempt{}, false, fmt.Errorf("finish attempt rows: %w", err)
		}
		finished = n == 1
	}

	stored, err := s.getAttempt(ctx, tx, id)
	if err != nil {
		return attempt.Attempt{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return attempt.Attempt{}, false, fmt.Errorf("commit update tx: %w", err)
	}
	return stored, finished, nil
}

func (s *Store) DeleteAttempt(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_attempt_question_answers WHERE attempt_id = $1`, id); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM quiz_attempts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attempt rows: %w", err)
	}
	if n == 0 {
		return attempt.ErrAttemptNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *Store) getAttempt(ctx context.Context, q queryable, id uuid.UUID) (attempt.Attempt, error) {
	row := q.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt.Attempt{}, attempt.ErrAttemptNotFound
		}
		return attempt.Attempt{}, err
	}
	list := []attempt.Attempt{a}
	if err := s.loadAnswers(ctx, q, list); err != nil {
		return attempt.Attempt{}, err
	}
	return list[0], nil
}

// loadAnswers fills Answers for every attempt in list with one query.
func (s *Store) loadAnswers(ctx context.Context, q queryable, list []attempt.Attempt) error {
	if len(list) == 0 {
		return nil
	}
	index := make(map[uuid.UUID]int, len(list))
	placeholders := make([]string, 0, len(list))
	args := make([]interface{}, 0, len(list))
	for i := range list {
		list[i].Answers = []attempt.Answer{}
		index[list[i].ID] = i
		args = append(args, list[i].ID)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT attempt_id, quiz_question_id, quiz_option_answer_id
		FROM quiz_attempt_question_answers
		WHERE attempt_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY attempt_id, position ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			attemptID uuid.UUID
			ans       attempt.Answer
		)
		if err := rows.Scan(&attemptID, &ans.QuestionID, &ans.OptionID); err != nil {
			return fmt.Errorf("scan answer: %w", err)
		}
		if i, ok := index[attemptID]; ok {
			list[i].Answers = append(list[i].Answers, ans)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate answers: %w", err)
	}
	return nil
}

func insertAnswers(ctx context.Context, tx *sql.Tx, attemptID uuid.UUID, answers []attempt.Answer) error {
	for i, ans := range answers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quiz_attempt_question_answers (attempt_id, quiz_question_id, quiz_option_answer_id, position)
			VALUES ($1, $2, $3, $4)
		`, attemptID, ans.QuestionID, ans.OptionID, i); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}
	return nil
}

func whereClause(f attempt.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.QuizID != nil {
		args = append(args, *f.QuizID)
		conds = append(conds, fmt.Sprintf("quiz_id = $%d", len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (attempt.Attempt, error) {
	var (
		a        attempt.Attempt
		status   string
		finishAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &status, &a.StartAt, &finishAt, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt.Attempt{}, err
		}
		return attempt.Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Status = attempt.Status(status)
	a.StartAt = a.StartAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.FinishAt = nullTime(finishAt)
	return a, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
