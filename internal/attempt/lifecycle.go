package attempt

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	EventCreated         = "created"
	EventFinished        = "finished"
	EventReaped          = "reaped"
	EventAnswersReplaced = "answers_replaced"
	EventDeleted         = "deleted"
)

// EventSink receives one call per successful state change.
type EventSink interface {
	RecordAttemptEvent(event string)
}

type noopSink struct{}

func (noopSink) RecordAttemptEvent(string) {}

// Viewer identifies the caller. Privileged callers may read and mutate
// attempts of other users.
type Viewer struct {
	UserID     uuid.UUID
	Privileged bool
}

func (v Viewer) canAccess(a Attempt) bool {
	return v.Privileged || a.UserID == v.UserID
}

// UpdateInput is a combined submit request. A nil field is left untouched;
// a non-nil Answers replaces the whole answer set, even when empty.
type UpdateInput struct {
	Status   *Status
	FinishAt *time.Time
	Answers  *[]Answer
}

// Lifecycle is the only writer of attempts.
type Lifecycle struct {
	repo    Repository
	catalog Catalog
	events  EventSink
}

func NewLifecycle(repo Repository, catalog Catalog, events EventSink) *Lifecycle {
	if events == nil {
		events = noopSink{}
	}
	return &Lifecycle{repo: repo, catalog: catalog, events: events}
}

func (l *Lifecycle) Create(ctx context.Context, quizID, userID uuid.UUID, now time.Time) (Attempt, error) {
	quiz, err := l.catalog.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		return Attempt{}, err
	}
	if quiz.Status != QuizPublish {
		return Attempt{}, ErrQuizNotPublished
	}
	if quiz.EndDate != nil && now.After(*quiz.EndDate) {
		return Attempt{}, ErrQuizEnded
	}
	if _, err := l.catalog.GetUser(ctx, userID); err != nil {
		return Attempt{}, err
	}

	limit := maxAttempt(quiz)
	count, err := l.repo.CountAttempts(ctx, Filter{QuizID: &quizID, UserID: &userID})
	if err != nil {
		return Attempt{}, fmt.Errorf("count attempts: %w", err)
	}
	if count >= limit {
		return Attempt{}, maxAttemptsError(limit)
	}
	if len(quiz.Questions) == 0 {
		return Attempt{}, ErrNoQuestions
	}

	created, err := l.repo.CreateAttempt(ctx, Attempt{
		ID:        uuid.New(),
		QuizID:    quizID,
		UserID:    userID,
		Status:    StatusOnProgress,
		StartAt:   now,
		CreatedAt: now,
		Answers:   []Answer{},
	}, limit)
	if err != nil {
		// another request took the last slot between the count and the insert
		if isMaxAttempts(err) {
			return Attempt{}, maxAttemptsError(limit)
		}
		return Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	l.events.RecordAttemptEvent(EventCreated)
	return created, nil
}

// Submit replaces answers and/or finishes the attempt. An expired attempt is
// reaped before the request is applied, so late answers are rejected.
func (l *Lifecycle) Submit(ctx context.Context, viewer Viewer, id uuid.UUID, in UpdateInput, now time.Time) (Attempt, error) {
	if in.Status != nil && !in.Status.Valid() {
		return Attempt{}, ErrInvalidStatus
	}

	a, err := l.repo.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if !viewer.canAccess(a) {
		return Attempt{}, ErrAttemptForbidden
	}
	quiz, err := l.catalog.GetQuizWithQuestions(ctx, a.QuizID)
	if err != nil {
		return Attempt{}, err
	}
	a, err = l.Reap(ctx, a, quiz, now)
	if err != nil {
		return Attempt{}, err
	}

	wantFinish := in.FinishAt != nil
	if in.Status != nil {
		if *in.Status == StatusOnProgress {
			if a.Status == StatusFinished {
				return Attempt{}, ErrStatusRegression
			}
			if in.FinishAt != nil {
				return Attempt{}, ErrFinishAtInProgress
			}
		}
		wantFinish = *in.Status == StatusFinished
	}
	if in.FinishAt != nil && in.FinishAt.Before(a.StartAt) {
		return Attempt{}, ErrFinishBeforeStart
	}

	var upd AttemptUpdate
	if in.Answers != nil {
		if a.Status == StatusFinished {
			return Attempt{}, ErrAttemptFinished
		}
		answers, err := validateAnswers(quiz, *in.Answers)
		if err != nil {
			return Attempt{}, err
		}
		upd.ReplaceAnswers = true
		upd.Answers = answers
	}
	if wantFinish && a.Status == StatusOnProgress {
		finishAt := now
		if in.FinishAt != nil {
			finishAt = *in.FinishAt
		}
		upd.FinishAt = &finishAt
	}
	if !upd.ReplaceAnswers && upd.FinishAt == nil {
		return a, nil
	}

	updated, finished, err := l.repo.UpdateAttempt(ctx, id, upd)
	if err != nil {
		return Attempt{}, err
	}
	if upd.ReplaceAnswers {
		l.events.RecordAttemptEvent(EventAnswersReplaced)
	}
	if finished {
		l.events.RecordAttemptEvent(EventFinished)
	}
	return updated, nil
}

// ReplaceAnswers overwrites the answer set of an ON_PROGRESS attempt.
func (l *Lifecycle) ReplaceAnswers(ctx context.Context, viewer Viewer, id uuid.UUID, answers []Answer, now time.Time) (Attempt, error) {
	return l.Submit(ctx, viewer, id, UpdateInput{Answers: &answers}, now)
}

// Finish moves the attempt to FINISHED. A nil finishAt means now.
func (l *Lifecycle) Finish(ctx context.Context, viewer Viewer, id uuid.UUID, finishAt *time.Time, now time.Time) (Attempt, error) {
	status := StatusFinished
	return l.Submit(ctx, viewer, id, UpdateInput{Status: &status, FinishAt: finishAt}, now)
}

// Reap finalizes a if its time budget or the quiz window has passed. It is a
// no-op for FINISHED attempts. When several callers race, only one performs
// the transition and every caller gets the stored record back.
func (l *Lifecycle) Reap(ctx context.Context, a Attempt, q Quiz, now time.Time) (Attempt, error) {
	if a.Status != StatusOnProgress || !IsExpired(a, q, now) {
		return a, nil
	}
	updated, finished, err := l.repo.UpdateAttempt(ctx, a.ID, AttemptUpdate{FinishAt: &now})
	if err != nil {
		return Attempt{}, fmt.Errorf("reap attempt: %w", err)
	}
	if finished {
		log.Printf("attempt reaped attempt_id=%s quiz_id=%s user_id=%s reason=%s", a.ID, a.QuizID, a.UserID, expiryReason(q, now))
		l.events.RecordAttemptEvent(EventReaped)
	}
	return updated, nil
}

func (l *Lifecycle) Delete(ctx context.Context, id uuid.UUID) error {
	if err := l.repo.DeleteAttempt(ctx, id); err != nil {
		return err
	}
	l.events.RecordAttemptEvent(EventDeleted)
	return nil
}

// validateAnswers rejects pairs outside the quiz and drops exact duplicates.
func validateAnswers(q Quiz, answers []Answer) ([]Answer, error) {
	out := make([]Answer, 0, len(answers))
	seen := make(map[Answer]struct{}, len(answers))
	for _, ans := range answers {
		question, ok := q.question(ans.QuestionID)
		if !ok {
			return nil, answerError("question %s", ans.QuestionID)
		}
		if !hasOption(question, ans.OptionID) {
			return nil, answerError("option %s for question %s", ans.OptionID, ans.QuestionID)
		}
		if _, dup := seen[ans]; dup {
			continue
		}
		seen[ans] = struct{}{}
		out = append(out, ans)
	}
	return out, nil
}

func hasOption(q Question, optionID uuid.UUID) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

func maxAttempt(q Quiz) int {
	if q.MaxAttempt < 1 {
		return 1
	}
	return q.MaxAttempt
}

func expiryReason(q Quiz, now time.Time) string {
	if q.EndDate != nil && now.After(*q.EndDate) {
		return "quiz_ended"
	}
	return "duration_elapsed"
}
