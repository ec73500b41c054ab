package attempt

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Catalog is the read-only view of quizzes and users owned by other parts of
// the platform.
type Catalog interface {
	// GetQuizWithQuestions returns ErrQuizNotFound for unknown ids.
	GetQuizWithQuestions(ctx context.Context, quizID uuid.UUID) (Quiz, error)
	// GetUser returns ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
}

// Repository persists attempts and their answers. Implementations must make
// CreateAttempt and UpdateAttempt atomic.
type Repository interface {
	FindAttempts(ctx context.Context, filter Filter) ([]Attempt, error)
	CountAttempts(ctx context.Context, filter Filter) (int, error)
	GetAttempt(ctx context.Context, id uuid.UUID) (Attempt, error)
	// CreateAttempt counts the existing attempts of (a.UserID, a.QuizID) and
	// inserts a in one atomic unit. It returns ErrMaxAttemptsReached when the
	// count is already maxAttempt or more.
	CreateAttempt(ctx context.Context, a Attempt, maxAttempt int) (Attempt, error)
	// UpdateAttempt applies upd atomically and returns the stored attempt.
	// finished is true only for the call that moved the attempt from
	// ON_PROGRESS to FINISHED.
	UpdateAttempt(ctx context.Context, id uuid.UUID, upd AttemptUpdate) (a Attempt, finished bool, err error)
	DeleteAttempt(ctx context.Context, id uuid.UUID) error
}

// AttemptUpdate describes one atomic mutation. Answers are replaced first and
// only when ReplaceAnswers is set; a FINISHED attempt rejects replacement with
// ErrAttemptFinished. FinishAt, when set, is written together with status
// FINISHED only if the stored status is still ON_PROGRESS.
type AttemptUpdate struct {
	ReplaceAnswers bool
	Answers        []Answer
	FinishAt       *time.Time
}

type Filter struct {
	QuizID  *uuid.UUID
	UserID  *uuid.UUID
	Status  Status
	OrderBy []Order
	// Page is 1-based. Limit <= 0 returns every match.
	Page  int
	Limit int
}

func (f Filter) Offset() int {
	if f.Limit <= 0 || f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

type Order struct {
	Field string
	Desc  bool
}

var sortableFields = map[string]struct{}{
	"status":     {},
	"start_at":   {},
	"finish_at":  {},
	"created_at": {},
}

// SortableField reports whether field may be used in Filter.OrderBy.
func SortableField(field string) bool {
	_, ok := sortableFields[field]
	return ok
}

// OrderClause renders OrderBy as SQL. Unknown fields are dropped and the
// result always ends with a stable tiebreaker.
func (f Filter) OrderClause() string {
	parts := make([]string, 0, len(f.OrderBy)+1)
	for _, o := range f.OrderBy {
		if !SortableField(o.Field) {
			continue
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		// NULL finish_at sorts as the largest value on every backend
		if o.Field == "finish_at" {
			if o.Desc {
				dir += " NULLS FIRST"
			} else {
				dir += " NULLS LAST"
			}
		}
		parts = append(parts, o.Field+" "+dir)
	}
	if len(parts) == 0 {
		parts = append(parts, "created_at ASC")
	}
	parts = append(parts, "id ASC")
	return strings.Join(parts, ", ")
}
