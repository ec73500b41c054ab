package attempt

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the lifecycle and query layers
// that is not a storage failure unwraps to exactly one of these.
var (
	ErrNotFound  = errors.New("not found")
	ErrRejected  = errors.New("rejected")
	ErrInvalid   = errors.New("invalid input")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
)

var (
	ErrQuizNotFound    = newError(ErrNotFound, "quiz not found")
	ErrUserNotFound    = newError(ErrNotFound, "user not found")
	ErrAttemptNotFound = newError(ErrNotFound, "quiz attempt not found")

	ErrQuizNotPublished   = newError(ErrRejected, "cannot attempt a quiz that is not published")
	ErrQuizEnded          = newError(ErrRejected, "cannot attempt a quiz that has ended")
	ErrMaxAttemptsReached = newError(ErrRejected, "max attempts reached")
	ErrNoQuestions        = newError(ErrRejected, "cannot attempt a quiz with no questions available")
	ErrStatusRegression   = newError(ErrRejected, "cannot change status from FINISHED to ON_PROGRESS")

	ErrFinishBeforeStart  = newError(ErrInvalid, "finish_at must be after start_at")
	ErrFinishAtInProgress = newError(ErrInvalid, "finish_at requires status FINISHED")
	ErrInvalidStatus      = newError(ErrInvalid, "invalid status")
	ErrAnswerNotInQuiz    = newError(ErrInvalid, "answer does not belong to the quiz")

	ErrAttemptFinished = newError(ErrConflict, "quiz attempt is already finished")

	ErrAttemptForbidden = newError(ErrForbidden, "attempt belongs to another user")
)

// Error is a domain error tagged with its category.
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func maxAttemptsError(limit int) error {
	return fmt.Errorf("%w (limit %d)", ErrMaxAttemptsReached, limit)
}

func answerError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrAnswerNotInQuiz}, args...)...)
}

func isMaxAttempts(err error) bool {
	return errors.Is(err, ErrMaxAttemptsReached)
}
