package attempt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *countingSink) RecordAttemptEvent(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	s.counts[event]++
}

func (s *countingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[event]
}

// fixture is the two question quiz used by the end to end scenarios:
// Q1 correct={opt1}, Q2 correct={opt3,opt4}.
type fixture struct {
	store     *MemoryStore
	events    *countingSink
	lifecycle *Lifecycle
	query     *Query
	quiz      Quiz
	learner   User
	admin     User
	q1, q2    uuid.UUID
	opt1      uuid.UUID
	opt2      uuid.UUID
	opt3      uuid.UUID
	opt4      uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*Quiz)) *fixture {
	t.Helper()
	f := &fixture{
		store:   NewMemoryStore(),
		events:  &countingSink{},
		learner: User{ID: uuid.New(), Name: "learner", Role: "STUDENT"},
		admin:   User{ID: uuid.New(), Name: "admin", Role: "ADMIN"},
		q1:      uuid.New(),
		q2:      uuid.New(),
		opt1:    uuid.New(),
		opt2:    uuid.New(),
		opt3:    uuid.New(),
		opt4:    uuid.New(),
	}
	quizID := uuid.New()
	f.quiz = Quiz{
		ID:         quizID,
		Title:      "Go basics",
		Status:     QuizPublish,
		Duration:   30,
		MaxAttempt: 1,
		Questions: []Question{
			{ID: f.q1, QuizID: quizID, Options: []Option{
				{ID: f.opt1, QuestionID: f.q1, IsCorrect: true},
				{ID: f.opt2, QuestionID: f.q1},
			}},
			{ID: f.q2, QuizID: quizID, Options: []Option{
				{ID: f.opt3, QuestionID: f.q2, IsCorrect: true},
				{ID: f.opt4, QuestionID: f.q2, IsCorrect: true},
			}},
		},
	}
	for _, m := range mutate {
		m(&f.quiz)
	}
	f.store.PutQuiz(f.quiz)
	f.store.PutUser(f.learner)
	f.store.PutUser(f.admin)
	f.lifecycle = NewLifecycle(f.store, f.store, f.events)
	f.query = NewQuery(f.store, f.store, f.lifecycle)
	return f
}

func (f *fixture) learnerViewer() Viewer { return Viewer{UserID: f.learner.ID} }

func TestScenario_SubmitAndFinishGradesFifty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.learnerViewer()

	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusOnProgress || created.FinishAt != nil || len(created.Answers) != 0 {
		t.Fatalf("unexpected new attempt: %+v", created)
	}
	if !created.StartAt.Equal(t0) {
		t.Fatalf("expected start_at=%v, got %v", t0, created.StartAt)
	}

	answers := []Answer{{QuestionID: f.q1, OptionID: f.opt1}, {QuestionID: f.q2, OptionID: f.opt3}}
	if _, err := f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, answers, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("replace answers: %v", err)
	}
	finished, err := f.lifecycle.Finish(ctx, viewer, created.ID, nil, t0.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != StatusFinished || finished.FinishAt == nil || !finished.FinishAt.Equal(t0.Add(6*time.Minute)) {
		t.Fatalf("unexpected finished attempt: %+v", finished)
	}

	view, err := f.query.Get(ctx, viewer, created.ID, t0.Add(7*time.Minute))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Grade == nil || *view.Grade != 50 {
		t.Fatalf("expected grade 50, got %v", view.Grade)
	}
	if view.TotalCorrect == nil || *view.TotalCorrect != 1 || view.TotalQuestions != 2 {
		t.Fatalf("unexpected totals: correct=%v total=%d", view.TotalCorrect, view.TotalQuestions)
	}

	_, err = f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0.Add(8*time.Minute))
	if !errors.Is(err, ErrMaxAttemptsReached) || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected max attempts rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "limit 1") {
		t.Fatalf("expected limit in message, got %q", err.Error())
	}
	if f.events.count(EventCreated) != 1 || f.events.count(EventFinished) != 1 || f.events.count(EventAnswersReplaced) != 1 {
		t.Fatalf("unexpected events: %+v", f.events.counts)
	}
}

func TestScenario_ReadAfterDeadlineReaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	answers := []Answer{{QuestionID: f.q2, OptionID: f.opt3}, {QuestionID: f.q2, OptionID: f.opt4}}
	if _, err := f.lifecycle.ReplaceAnswers(ctx, f.learnerViewer(), created.ID, answers, t0.Add(time.Minute)); err != nil {
		t.Fatalf("replace answers: %v", err)
	}

	readAt := t0.Add(31 * time.Minute)
	view, err := f.query.Get(ctx, f.learnerViewer(), created.ID, readAt)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Status != StatusFinished {
		t.Fatalf("expected FINISHED, got %s", view.Status)
	}
	if view.FinishAt == nil || !view.FinishAt.Equal(readAt) {
		t.Fatalf("expected finish_at=%v, got %v", readAt, view.FinishAt)
	}
	if view.Grade == nil || *view.Grade != 50 {
		t.Fatalf("expected grade 50 from saved answers, got %v", view.Grade)
	}
	if view.RemainingSecs != nil || view.ExpiresAt != nil {
		t.Fatalf("finished view should not carry deadline fields: %+v", view)
	}
}

func TestCreate_PreconditionOrder(t *testing.T) {
	ended := t0.Add(-time.Hour)
	tests := []struct {
		name    string
		mutate  func(*Quiz)
		quizID  func(f *fixture) uuid.UUID
		userID  func(f *fixture) uuid.UUID
		wantErr error
		kind    error
	}{
		{
			name:    "unknown quiz",
			quizID:  func(*fixture) uuid.UUID { return uuid.New() },
			wantErr: ErrQuizNotFound,
			kind:    ErrNotFound,
		},
		{
			name: "draft quiz before unknown user",
			mutate: func(q *Quiz) {
				q.Status = QuizDraft
			},
			userID:  func(*fixture) uuid.UUID { return uuid.New() },
			wantErr: ErrQuizNotPublished,
			kind:    ErrRejected,
		},
		{
			name: "ended quiz before unknown user",
			mutate: func(q *Quiz) {
				q.EndDate = &ended
			},
			userID:  func(*fixture) uuid.UUID { return uuid.New() },
			wantErr: ErrQuizEnded,
			kind:    ErrRejected,
		},
		{
			name:    "unknown user",
			userID:  func(*fixture) uuid.UUID { return uuid.New() },
			wantErr: ErrUserNotFound,
			kind:    ErrNotFound,
		},
		{
			name: "no questions",
			mutate: func(q *Quiz) {
				q.Questions = nil
			},
			wantErr: ErrNoQuestions,
			kind:    ErrRejected,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutations []func(*Quiz)
			if tc.mutate != nil {
				mutations = append(mutations, tc.mutate)
			}
			f := newFixture(t, mutations...)
			quizID, userID := f.quiz.ID, f.learner.ID
			if tc.quizID != nil {
				quizID = tc.quizID(f)
			}
			if tc.userID != nil {
				userID = tc.userID(f)
			}
			_, err := f.lifecycle.Create(context.Background(), quizID, userID, t0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected kind %v, got %v", tc.kind, err)
			}
			n, _ := f.store.CountAttempts(context.Background(), Filter{})
			if n != 0 {
				t.Fatalf("expected no attempt persisted, got %d", n)
			}
		})
	}
}

func TestCreate_QuotaCheckedBeforeQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0); err != nil {
		t.Fatalf("create: %v", err)
	}

	f.quiz.Questions = nil
	f.store.PutQuiz(f.quiz)
	_, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if !errors.Is(err, ErrMaxAttemptsReached) {
		t.Fatalf("expected max attempts before no questions, got %v", err)
	}
}

func TestCreate_EndDateIsInclusive(t *testing.T) {
	end := t0
	f := newFixture(t, func(q *Quiz) { q.EndDate = &end })
	if _, err := f.lifecycle.Create(context.Background(), f.quiz.ID, f.learner.ID, t0); err != nil {
		t.Fatalf("expected create at end_date to pass, got %v", err)
	}
}

func TestCreate_ConcurrentCreatesRespectMaxAttempt(t *testing.T) {
	f := newFixture(t, func(q *Quiz) { q.MaxAttempt = 2 })
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
		other     []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrMaxAttemptsReached):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if succeeded != 2 || rejected != workers-2 {
		t.Fatalf("expected 2 successes and %d rejections, got %d/%d", workers-2, succeeded, rejected)
	}
	n, _ := f.store.CountAttempts(ctx, Filter{QuizID: &f.quiz.ID, UserID: &f.learner.ID})
	if n != 2 {
		t.Fatalf("expected 2 stored attempts, got %d", n)
	}
}

func TestReplaceAnswers_RoundTripHasNoResidue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	viewer := f.learnerViewer()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first := []Answer{{QuestionID: f.q1, OptionID: f.opt2}, {QuestionID: f.q2, OptionID: f.opt3}}
	if _, err := f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, first, t0.Add(time.Minute)); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	second := []Answer{{QuestionID: f.q2, OptionID: f.opt4}}
	if _, err := f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, second, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := f.store.GetAttempt(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Answers) != 1 || got.Answers[0] != second[0] {
		t.Fatalf("expected exactly %v, got %v", second, got.Answers)
	}

	if _, err := f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, []Answer{}, t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("clear answers: %v", err)
	}
	got, _ = f.store.GetAttempt(ctx, created.ID)
	if len(got.Answers) != 0 {
		t.Fatalf("expected empty answer set, got %v", got.Answers)
	}
}

func TestReplaceAnswers_Rejections(t *testing.T) {
	f := newFixture(t, func(q *Quiz) { q.MaxAttempt = 5 })
	ctx := context.Background()
	viewer := f.learnerViewer()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.lifecycle.ReplaceAnswers(ctx, viewer, uuid.New(), nil, t0)
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, []Answer{{QuestionID: uuid.New(), OptionID: f.opt1}}, t0)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid for foreign question, got %v", err)
	}
	_, err = f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, []Answer{{QuestionID: f.q1, OptionID: f.opt3}}, t0)
	if !errors.Is(err, ErrAnswerNotInQuiz) {
		t.Fatalf("expected option mismatch, got %v", err)
	}

	_, err = f.lifecycle.ReplaceAnswers(ctx, Viewer{UserID: uuid.New()}, created.ID, nil, t0)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another learner, got %v", err)
	}

	if _, err := f.lifecycle.Finish(ctx, viewer, created.ID, nil, t0.Add(time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, err = f.lifecycle.ReplaceAnswers(ctx, viewer, created.ID, []Answer{{QuestionID: f.q1, OptionID: f.opt1}}, t0.Add(2*time.Minute))
	if !errors.Is(err, ErrAttemptFinished) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on finished attempt, got %v", err)
	}
}

func TestSubmit_LateAnswersAreRejectedAfterReap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.lifecycle.ReplaceAnswers(ctx, f.learnerViewer(), created.ID, []Answer{{QuestionID: f.q1, OptionID: f.opt1}}, t0.Add(45*time.Minute))
	if !errors.Is(err, ErrAttemptFinished) {
		t.Fatalf("expected conflict after deadline, got %v", err)
	}
	got, _ := f.store.GetAttempt(ctx, created.ID)
	if got.Status != StatusFinished || len(got.Answers) != 0 {
		t.Fatalf("expected reaped attempt without answers, got %+v", got)
	}
	if f.events.count(EventReaped) != 1 {
		t.Fatalf("expected one reap event, got %d", f.events.count(EventReaped))
	}
}

func TestSubmit_StatusRules(t *testing.T) {
	f := newFixture(t, func(q *Quiz) { q.MaxAttempt = 5 })
	ctx := context.Background()
	viewer := f.learnerViewer()
	onProgress := StatusOnProgress
	finished := StatusFinished
	bogus := Status("PAUSED")

	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	before := t0.Add(-time.Second)
	_, err = f.lifecycle.Submit(ctx, viewer, created.ID, UpdateInput{Status: &finished, FinishAt: &before}, t0.Add(time.Minute))
	if !errors.Is(err, ErrFinishBeforeStart) || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected finish before start validation error, got %v", err)
	}

	_, err = f.lifecycle.Submit(ctx, viewer, created.ID, UpdateInput{Status: &bogus}, t0)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	at := t0.Add(2 * time.Minute)
	_, err = f.lifecycle.Submit(ctx, viewer, created.ID, UpdateInput{Status: &onProgress, FinishAt: &at}, t0.Add(3*time.Minute))
	if !errors.Is(err, ErrFinishAtInProgress) {
		t.Fatalf("expected finish_at with ON_PROGRESS to be invalid, got %v", err)
	}

	got, _ := f.store.GetAttempt(ctx, created.ID)
	if got.Status != StatusOnProgress || got.FinishAt != nil {
		t.Fatalf("rejected requests must not mutate: %+v", got)
	}

	// finish_at alone implies FINISHED
	done, err := f.lifecycle.Submit(ctx, viewer, created.ID, UpdateInput{FinishAt: &at}, t0.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("finish via finish_at: %v", err)
	}
	if done.Status != StatusFinished || !done.FinishAt.Equal(at) {
		t.Fatalf("unexpected finished attempt: %+v", done)
	}

	_, err = f.lifecycle.Submit(ctx, viewer, created.ID, UpdateInput{Status: &onProgress}, t0.Add(4*time.Minute))
	if !errors.Is(err, ErrStatusRegression) || !errors.Is(err, ErrRejected) {
		t.Fatalf("expected regression rejection, got %v", err)
	}

	again, err := f.lifecycle.Finish(ctx, viewer, created.ID, nil, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("finishing twice should be a no-op, got %v", err)
	}
	if !again.FinishAt.Equal(at) {
		t.Fatalf("finish_at must not move, got %v", again.FinishAt)
	}
	if f.events.count(EventFinished) != 1 {
		t.Fatalf("expected one finish event, got %d", f.events.count(EventFinished))
	}
}

func TestSubmit_CombinedAnswersAndFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	finished := StatusFinished
	answers := []Answer{
		{QuestionID: f.q1, OptionID: f.opt1},
		{QuestionID: f.q2, OptionID: f.opt3},
		{QuestionID: f.q2, OptionID: f.opt4},
		{QuestionID: f.q2, OptionID: f.opt4},
	}
	got, err := f.lifecycle.Submit(ctx, f.learnerViewer(), created.ID, UpdateInput{Status: &finished, Answers: &answers}, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != StatusFinished || len(got.Answers) != 3 {
		t.Fatalf("expected finished attempt with deduplicated answers, got %+v", got)
	}
	if g := GradeAttempt(got, f.quiz); g.Grade != 100 {
		t.Fatalf("expected grade 100, got %v", g.Grade)
	}
}

func TestReap_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := f.lifecycle.Reap(ctx, created, f.quiz, t0.Add(40*time.Minute))
	if err != nil {
		t.Fatalf("first reap: %v", err)
	}
	second, err := f.lifecycle.Reap(ctx, first, f.quiz, t0.Add(50*time.Minute))
	if err != nil {
		t.Fatalf("second reap: %v", err)
	}
	// a stale ON_PROGRESS copy loses the conditional update and gets the stored row
	third, err := f.lifecycle.Reap(ctx, created, f.quiz, t0.Add(60*time.Minute))
	if err != nil {
		t.Fatalf("stale reap: %v", err)
	}

	for _, a := range []Attempt{first, second, third} {
		if a.Status != StatusFinished || !a.FinishAt.Equal(t0.Add(40*time.Minute)) {
			t.Fatalf("unexpected reaped attempt: %+v", a)
		}
	}
	if f.events.count(EventReaped) != 1 {
		t.Fatalf("expected one reap, got %d", f.events.count(EventReaped))
	}
}

func TestReap_ExpiryBounds(t *testing.T) {
	end := t0.Add(10 * time.Minute)
	tests := []struct {
		name    string
		mutate  func(*Quiz)
		at      time.Time
		expired bool
	}{
		{name: "exactly at duration", at: t0.Add(30 * time.Minute), expired: false},
		{name: "past duration", at: t0.Add(30*time.Minute + time.Second), expired: true},
		{name: "end date earlier than duration", mutate: func(q *Quiz) { q.EndDate = &end }, at: t0.Add(11 * time.Minute), expired: true},
		{name: "zero duration without end date", mutate: func(q *Quiz) { q.Duration = 0 }, at: t0.Add(48 * time.Hour), expired: false},
		{name: "zero duration uses end date", mutate: func(q *Quiz) { q.Duration = 0; q.EndDate = &end }, at: t0.Add(11 * time.Minute), expired: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutations []func(*Quiz)
			if tc.mutate != nil {
				mutations = append(mutations, tc.mutate)
			}
			f := newFixture(t, mutations...)
			ctx := context.Background()
			created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			got, err := f.lifecycle.Reap(ctx, created, f.quiz, tc.at)
			if err != nil {
				t.Fatalf("reap: %v", err)
			}
			if (got.Status == StatusFinished) != tc.expired {
				t.Fatalf("expected expired=%v, got status %s", tc.expired, got.Status)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.lifecycle.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.lifecycle.Delete(ctx, created.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := f.lifecycle.Create(ctx, f.quiz.ID, f.learner.ID, t0); err != nil {
		t.Fatalf("delete should free the slot, got %v", err)
	}
}
