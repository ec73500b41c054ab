package attempt

import (
	"time"

	"github.com/google/uuid"
)

type QuizStatus string

const (
	QuizDraft   QuizStatus = "DRAFT"
	QuizPublish QuizStatus = "PUBLISH"
)

type Status string

const (
	StatusOnProgress Status = "ON_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

func (s Status) Valid() bool {
	return s == StatusOnProgress || s == StatusFinished
}

// Quiz is read-only catalog data. Duration is in minutes; zero means the
// attempt itself has no time budget and only EndDate bounds it.
type Quiz struct {
	ID         uuid.UUID  `json:"id"`
	Title      string     `json:"title"`
	Status     QuizStatus `json:"status"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Duration   int        `json:"duration"`
	MaxAttempt int        `json:"max_attempt"`
	Questions  []Question `json:"questions"`
}

type Question struct {
	ID      uuid.UUID `json:"id"`
	QuizID  uuid.UUID `json:"quiz_id"`
	Options []Option  `json:"options"`
}

type Option struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
}

type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role string    `json:"role"`
}

type Attempt struct {
	ID        uuid.UUID  `json:"id"`
	QuizID    uuid.UUID  `json:"quiz_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Status    Status     `json:"status"`
	StartAt   time.Time  `json:"start_at"`
	FinishAt  *time.Time `json:"finish_at"`
	CreatedAt time.Time  `json:"created_at"`
	Answers   []Answer   `json:"quiz_attempt_question_answers"`
}

type Answer struct {
	QuestionID uuid.UUID `json:"quiz_question_id"`
	OptionID   uuid.UUID `json:"quiz_option_answer_id"`
}

// ExpiresAt is the earliest of start_at+duration and the quiz end date.
// It returns nil when neither bound applies.
func ExpiresAt(a Attempt, q Quiz) *time.Time {
	var out *time.Time
	if q.Duration > 0 {
		t := a.StartAt.Add(time.Duration(q.Duration) * time.Minute)
		out = &t
	}
	if q.EndDate != nil && (out == nil || q.EndDate.Before(*out)) {
		t := *q.EndDate
		out = &t
	}
	return out
}

// IsExpired reports whether now is strictly past the attempt's time budget
// or the quiz window.
func IsExpired(a Attempt, q Quiz, now time.Time) bool {
	exp := ExpiresAt(a, q)
	return exp != nil && now.After(*exp)
}

// remainingSeconds is nil for finished attempts and for attempts without any
// deadline.
func remainingSeconds(a Attempt, q Quiz, now time.Time) *int64 {
	if a.Status != StatusOnProgress {
		return nil
	}
	exp := ExpiresAt(a, q)
	if exp == nil {
		return nil
	}
	secs := int64(0)
	if remaining := exp.Sub(now); remaining > 0 {
		secs = int64(remaining.Seconds())
	}
	return &secs
}

func (q Quiz) question(id uuid.UUID) (Question, bool) {
	for _, qq := range q.Questions {
		if qq.ID == id {
			return qq, true
		}
	}
	return Question{}, false
}
