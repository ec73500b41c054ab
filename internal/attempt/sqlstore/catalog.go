package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lmsquiz/internal/attempt"

	"github.com/google/uuid"
)

func (s *Store) GetQuizWithQuestions(ctx context.Context, quizID uuid.UUID) (attempt.Quiz, error) {
	var (
		q          attempt.Quiz
		status     string
		start, end sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, status, start_date, end_date, duration, max_attempt
		FROM quizzes
		WHERE id = $1
	`, quizID).Scan(&q.ID, &q.Title, &status, &start, &end, &q.Duration, &q.MaxAttempt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt.Quiz{}, attempt.ErrQuizNotFound
		}
		return attempt.Quiz{}, fmt.Errorf("query quiz: %w", err)
	}
	q.Status = attempt.QuizStatus(status)
	q.StartDate = nullTime(start)
	q.EndDate = nullTime(end)

	rows, err := s.db.QueryContext(ctx, `
		SELECT qq.id, o.id, o.is_correct
		FROM quiz_questions qq
		LEFT JOIN quiz_options o ON o.question_id = qq.id
		WHERE qq.quiz_id = $1
		ORDER BY qq.position ASC, o.position ASC
	`, quizID)
	if err != nil {
		return attempt.Quiz{}, fmt.Errorf("query quiz questions: %w", err)
	}
	defer rows.Close()

	q.Questions = []attempt.Question{}
	for rows.Next() {
		var (
			questionID uuid.UUID
			optionID   uuid.NullUUID
			isCorrect  sql.NullBool
		)
		if err := rows.Scan(&questionID, &optionID, &isCorrect); err != nil {
			return attempt.Quiz{}, fmt.Errorf("scan quiz question: %w", err)
		}
		last := len(q.Questions) - 1
		if last < 0 || q.Questions[last].ID != questionID {
			q.Questions = append(q.Questions, attempt.Question{ID: questionID, QuizID: q.ID})
			last++
		}
		if optionID.Valid {
			q.Questions[last].Options = append(q.Questions[last].Options, attempt.Option{
				ID:         optionID.UUID,
				QuestionID: questionID,
				IsCorrect:  isCorrect.Bool,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return attempt.Quiz{}, fmt.Errorf("iterate quiz questions: %w", err)
	}
	return q, nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (attempt.User, error) {
	var u attempt.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt.User{}, attempt.ErrUserNotFound
		}
		return attempt.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// Seed upserts the quiz, its questions and options, and users in one
// transaction. Question and option order is kept through their position.
func (s *Store) Seed(ctx context.Context, q attempt.Quiz, users ...attempt.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quizzes (id, title, status, start_date, end_date, duration, max_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			duration = EXCLUDED.duration,
			max_attempt = EXCLUDED.max_attempt
	`, q.ID, q.Title, string(q.Status), timeArg(q.StartDate), timeArg(q.EndDate), q.Duration, q.MaxAttempt); err != nil {
		return fmt.Errorf("upsert quiz: %w", err)
	}

	for i, question := range q.Questions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quiz_questions (id, quiz_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position
		`, question.ID, q.ID, i); err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}
		for j, opt := range question.Options {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quiz_options (id, question_id, is_correct, position)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET
					is_correct = EXCLUDED.is_correct,
					position = EXCLUDED.position
			`, opt.ID, question.ID, opt.IsCorrect, j); err != nil {
				return fmt.Errorf("upsert option: %w", err)
			}
		}
	}

	for _, u := range users {
		role := u.Role
		if role == "" {
			role = "STUDENT"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, name, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				role = EXCLUDED.role
		`, u.ID, u.Name, role); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}
