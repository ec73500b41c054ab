// Package attempttest holds the behaviour every attempt.Repository and
// attempt.Catalog implementation must share. Store packages run it against
// their own backend.
package attempttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lmsquiz/internal/attempt"

	"github.com/google/uuid"
)

// Store is the backend under test. Seed must persist the quiz with its
// questions and options, and the user.
type Store interface {
	attempt.Repository
	attempt.Catalog
	Seed(ctx context.Context, q attempt.Quiz, users ...attempt.User) error
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func RunContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("create and count", func(t *testing.T) { testCreateAndCount(t, newStore(t)) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("conditional finish", func(t *testing.T) { testConditionalFinish(t, newStore(t)) })
	t.Run("find order and page", func(t *testing.T) { testFind(t, newStore(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, newStore(t)) })
}

// SampleQuiz returns a published quiz with two questions: the first has one
// correct option out of two, the second two correct options out of three.
func SampleQuiz(maxAttempt int) attempt.Quiz {
	quizID := uuid.New()
	start, end := base, base.Add(24*time.Hour)
	q := attempt.Quiz{
		ID:         quizID,
		Title:      "Sample quiz",
		Status:     attempt.QuizPublish,
		StartDate:  &start,
		EndDate:    &end,
		Duration:   30,
		MaxAttempt: maxAttempt,
	}
	for _, correct := range [][]bool{{true, false}, {true, true, false}} {
		question := attempt.Question{ID: uuid.New(), QuizID: quizID}
		for _, c := range correct {
			question.Options = append(question.Options, attempt.Option{ID: uuid.New(), QuestionID: question.ID, IsCorrect: c})
		}
		q.Questions = append(q.Questions, question)
	}
	return q
}

func newAttempt(q attempt.Quiz, u attempt.User, at time.Time) attempt.Attempt {
	return attempt.Attempt{
		ID:        uuid.New(),
		QuizID:    q.ID,
		UserID:    u.ID,
		Status:    attempt.StatusOnProgress,
		StartAt:   at,
		CreatedAt: at,
	}
}

func seed(t *testing.T, s Store, maxAttempt int, users int) (attempt.Quiz, []attempt.User) {
	t.Helper()
	q := SampleQuiz(maxAttempt)
	us := make([]attempt.User, 0, users)
	for i := 0; i < users; i++ {
		us = append(us, attempt.User{ID: uuid.New(), Name: "learner", Role: "STUDENT"})
	}
	if err := s.Seed(context.Background(), q, us...); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return q, us
}

func testCatalog(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 1, 1)

	got, err := s.GetQuizWithQuestions(ctx, q.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if got.Status != attempt.QuizPublish || got.Duration != 30 || got.MaxAttempt != 1 {
		t.Fatalf("unexpected quiz %+v", got)
	}
	if got.EndDate == nil || !got.EndDate.Equal(*q.EndDate) {
		t.Fatalf("unexpected end date %v", got.EndDate)
	}
	if len(got.Questions) != 2 || len(got.Questions[0].Options) != 2 || len(got.Questions[1].Options) != 3 {
		t.Fatalf("unexpected questions %+v", got.Questions)
	}
	for i := range q.Questions {
		if got.Questions[i].ID != q.Questions[i].ID {
			t.Fatalf("question order not kept at %d", i)
		}
		for j := range q.Questions[i].Options {
			if got.Questions[i].Options[j] != q.Questions[i].Options[j] {
				t.Fatalf("option mismatch at %d/%d: %+v", i, j, got.Questions[i].Options[j])
			}
		}
	}

	if _, err := s.GetQuizWithQuestions(ctx, uuid.New()); !errors.Is(err, attempt.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	u, err := s.GetUser(ctx, users[0].ID)
	if err != nil || u.ID != users[0].ID {
		t.Fatalf("get user: %+v %v", u, err)
	}
	if _, err := s.GetUser(ctx, uuid.New()); !errors.Is(err, attempt.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func testCreateAndCount(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 2, 2)

	first, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != attempt.StatusOnProgress || first.FinishAt != nil || len(first.Answers) != 0 {
		t.Fatalf("unexpected created attempt %+v", first)
	}
	if !first.StartAt.Equal(base) {
		t.Fatalf("start_at not kept: %v", first.StartAt)
	}
	if _, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base.Add(time.Minute)), 2); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if _, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base.Add(2*time.Minute)), 2); !errors.Is(err, attempt.ErrMaxAttemptsReached) {
		t.Fatalf("expected max attempts, got %v", err)
	}
	if _, err := s.CreateAttempt(ctx, newAttempt(q, users[1], base), 2); err != nil {
		t.Fatalf("other user create: %v", err)
	}

	n, err := s.CountAttempts(ctx, attempt.Filter{QuizID: &q.ID, UserID: &users[0].ID})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 attempts for user, got %d %v", n, err)
	}
	n, err = s.CountAttempts(ctx, attempt.Filter{QuizID: &q.ID})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 attempts for quiz, got %d %v", n, err)
	}
}

func testConcurrentCreate(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 3, 1)

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, attempt.ErrMaxAttemptsReached):
				rejected++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 3 || rejected != workers-3 {
		t.Fatalf("expected 3 creates and %d rejections, got %d/%d", workers-3, ok, rejected)
	}
}

func testUpdate(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 1, 1)
	a, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	q1, q2 := q.Questions[0], q.Questions[1]
	first := []attempt.Answer{
		{QuestionID: q1.ID, OptionID: q1.Options[1].ID},
		{QuestionID: q2.ID, OptionID: q2.Options[0].ID},
		{QuestionID: q2.ID, OptionID: q2.Options[2].ID},
	}
	got, finished, err := s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{ReplaceAnswers: true, Answers: first})
	if err != nil || finished {
		t.Fatalf("first replace: finished=%v err=%v", finished, err)
	}
	if len(got.Answers) != 3 {
		t.Fatalf("expected 3 answers, got %v", got.Answers)
	}

	second := []attempt.Answer{{QuestionID: q2.ID, OptionID: q2.Options[1].ID}}
	if _, _, err := s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{ReplaceAnswers: true, Answers: second}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	read, err := s.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(read.Answers) != 1 || read.Answers[0] != second[0] {
		t.Fatalf("expected exactly %v, got %v", second, read.Answers)
	}

	finishAt := base.Add(10 * time.Minute)
	done, finished, err := s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{ReplaceAnswers: true, Answers: first, FinishAt: &finishAt})
	if err != nil || !finished {
		t.Fatalf("replace and finish: finished=%v err=%v", finished, err)
	}
	if done.Status != attempt.StatusFinished || done.FinishAt == nil || !done.FinishAt.Equal(finishAt) || len(done.Answers) != 3 {
		t.Fatalf("unexpected finished attempt %+v", done)
	}

	_, _, err = s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{ReplaceAnswers: true, Answers: second})
	if !errors.Is(err, attempt.ErrAttemptFinished) {
		t.Fatalf("expected conflict on finished attempt, got %v", err)
	}
	read, _ = s.GetAttempt(ctx, a.ID)
	if len(read.Answers) != 3 {
		t.Fatalf("rejected replace must not change answers, got %v", read.Answers)
	}

	if _, _, err := s.UpdateAttempt(ctx, uuid.New(), attempt.AttemptUpdate{FinishAt: &finishAt}); !errors.Is(err, attempt.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetAttempt(ctx, uuid.New()); !errors.Is(err, attempt.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testConditionalFinish(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 1, 1)
	a, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    []time.Time
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(31+i) * time.Minute)
			got, finished, err := s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{FinishAt: &at})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("racer %d: %v", i, err)
				return
			}
			if finished {
				winners++
			}
			if got.FinishAt != nil {
				seen = append(seen, *got.FinishAt)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if len(seen) != racers {
		t.Fatalf("every racer should read back finish_at, got %d", len(seen))
	}
	for _, ts := range seen[1:] {
		if !ts.Equal(seen[0]) {
			t.Fatalf("racers disagree on finish_at: %v vs %v", ts, seen[0])
		}
	}
}

func testFind(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 5, 2)

	ids := make([]uuid.UUID, 0, 4)
	for i := 0; i < 4; i++ {
		a, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base.Add(time.Duration(i)*time.Minute)), 5)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, a.ID)
	}
	if _, err := s.CreateAttempt(ctx, newAttempt(q, users[1], base), 5); err != nil {
		t.Fatalf("create other: %v", err)
	}
	finishAt := base.Add(20 * time.Minute)
	if _, _, err := s.UpdateAttempt(ctx, ids[1], attempt.AttemptUpdate{FinishAt: &finishAt}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.FindAttempts(ctx, attempt.Filter{
		UserID:  &users[0].ID,
		OrderBy: []attempt.Order{{Field: "start_at", Desc: true}},
		Page:    1,
		Limit:   3,
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 3 || got[0].ID != ids[3] || got[1].ID != ids[2] || got[2].ID != ids[1] {
		t.Fatalf("unexpected first page %v", attemptIDs(got))
	}
	got, err = s.FindAttempts(ctx, attempt.Filter{
		UserID:  &users[0].ID,
		OrderBy: []attempt.Order{{Field: "start_at", Desc: true}},
		Page:    2,
		Limit:   3,
	})
	if err != nil || len(got) != 1 || got[0].ID != ids[0] {
		t.Fatalf("unexpected second page %v %v", attemptIDs(got), err)
	}

	got, err = s.FindAttempts(ctx, attempt.Filter{UserID: &users[0].ID, Status: attempt.StatusFinished})
	if err != nil || len(got) != 1 || got[0].ID != ids[1] {
		t.Fatalf("unexpected status filter result %v %v", attemptIDs(got), err)
	}
	n, err := s.CountAttempts(ctx, attempt.Filter{UserID: &users[0].ID, Status: attempt.StatusOnProgress})
	if err != nil || n != 3 {
		t.Fatalf("expected 3 in progress, got %d %v", n, err)
	}

	got, err = s.FindAttempts(ctx, attempt.Filter{
		UserID:  &users[0].ID,
		OrderBy: []attempt.Order{{Field: "finish_at"}, {Field: "start_at"}},
	})
	if err != nil || len(got) != 4 || got[0].ID != ids[1] || got[1].ID != ids[0] {
		t.Fatalf("finished attempt should sort first with NULLs last, got %v %v", attemptIDs(got), err)
	}
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	q, users := seed(t, s, 1, 1)
	a, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	qq := q.Questions[0]
	if _, _, err := s.UpdateAttempt(ctx, a.ID, attempt.AttemptUpdate{ReplaceAnswers: true, Answers: []attempt.Answer{{QuestionID: qq.ID, OptionID: qq.Options[0].ID}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := s.DeleteAttempt(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteAttempt(ctx, a.ID); !errors.Is(err, attempt.ErrAttemptNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := s.CreateAttempt(ctx, newAttempt(q, users[0], base), 1); err != nil {
		t.Fatalf("slot should be free after delete: %v", err)
	}
}

func attemptIDs(list []attempt.Attempt) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
