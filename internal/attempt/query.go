package attempt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const catalogFetchConcurrency = 4

// AttemptView is an attempt annotated for display. The grade fields are set
// only once the attempt is FINISHED; the deadline fields only while it is
// ON_PROGRESS.
type AttemptView struct {
	Attempt
	TotalQuestions int        `json:"total_questions"`
	TotalCorrect   *int       `json:"total_correct"`
	Grade          *float64   `json:"grade"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RemainingSecs  *int64     `json:"remaining_secs,omitempty"`
}

type Page struct {
	TotalItems   int `json:"total_items"`
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
	ItemsPerPage int `json:"items_per_page"`
}

type QuizProgress struct {
	QuizID               uuid.UUID  `json:"quiz_id"`
	Title                string     `json:"title"`
	AttemptCount         int        `json:"attempt_count"`
	MaxAttempt           int        `json:"max_attempt"`
	RemainingAttempts    int        `json:"remaining_attempts"`
	PersonalHighestGrade *float64   `json:"personal_highest_grade"`
	ActiveAttemptID      *uuid.UUID `json:"active_attempt_id"`
}

// Query serves reads. Stale attempts the viewer may touch are reaped through
// the lifecycle before they are returned.
type Query struct {
	repo      Repository
	catalog   Catalog
	lifecycle *Lifecycle
}

func NewQuery(repo Repository, catalog Catalog, lifecycle *Lifecycle) *Query {
	return &Query{repo: repo, catalog: catalog, lifecycle: lifecycle}
}

func (s *Query) Get(ctx context.Context, viewer Viewer, id uuid.UUID, now time.Time) (AttemptView, error) {
	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return AttemptView{}, err
	}
	if !viewer.canAccess(a) {
		return AttemptView{}, ErrAttemptForbidden
	}
	quiz, err := s.catalog.GetQuizWithQuestions(ctx, a.QuizID)
	if err != nil {
		return AttemptView{}, err
	}
	a, err = s.lifecycle.Reap(ctx, a, quiz, now)
	if err != nil {
		return AttemptView{}, err
	}
	return buildView(a, quiz, now), nil
}

// List returns one page of attempts. Non-privileged viewers only ever see
// their own attempts.
func (s *Query) List(ctx context.Context, viewer Viewer, filter Filter, now time.Time) ([]AttemptView, Page, error) {
	if !viewer.Privileged {
		if filter.UserID != nil && *filter.UserID != viewer.UserID {
			return nil, Page{}, ErrAttemptForbidden
		}
		uid := viewer.UserID
		filter.UserID = &uid
	}

	var (
		attempts []Attempt
		total    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.repo.FindAttempts(gctx, filter)
		if err != nil {
			return fmt.Errorf("find attempts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.CountAttempts(gctx, filter)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, Page{}, err
	}

	quizzes, err := s.loadQuizzes(ctx, attempts)
	if err != nil {
		return nil, Page{}, err
	}

	out := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		quiz := quizzes[a.QuizID]
		if viewer.canAccess(a) {
			a, err = s.lifecycle.Reap(ctx, a, quiz, now)
			if err != nil {
				return nil, Page{}, err
			}
		}
		out = append(out, buildView(a, quiz, now))
	}
	return out, pageMeta(filter, total, len(out)), nil
}

// Progress summarises the viewer's attempts on each quiz, in the order given.
func (s *Query) Progress(ctx context.Context, viewer Viewer, quizIDs []uuid.UUID, now time.Time) ([]QuizProgress, error) {
	out := make([]QuizProgress, len(quizIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogFetchConcurrency)
	for i, quizID := range quizIDs {
		i, quizID := i, quizID
		g.Go(func() error {
			p, err := s.quizProgress(gctx, viewer.UserID, quizID, now)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Query) quizProgress(ctx context.Context, userID, quizID uuid.UUID, now time.Time) (QuizProgress, error) {
	quiz, err := s.catalog.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		return QuizProgress{}, err
	}
	attempts, err := s.repo.FindAttempts(ctx, Filter{
		QuizID:  &quizID,
		UserID:  &userID,
		OrderBy: []Order{{Field: "start_at"}},
	})
	if err != nil {
		return QuizProgress{}, fmt.Errorf("find attempts: %w", err)
	}

	p := QuizProgress{
		QuizID:       quiz.ID,
		Title:        quiz.Title,
		AttemptCount: len(attempts),
		MaxAttempt:   maxAttempt(quiz),
	}
	for i := range attempts {
		attempts[i], err = s.lifecycle.Reap(ctx, attempts[i], quiz, now)
		if err != nil {
			return QuizProgress{}, err
		}
		if attempts[i].Status == StatusOnProgress && p.ActiveAttemptID == nil {
			id := attempts[i].ID
			p.ActiveAttemptID = &id
		}
	}
	p.PersonalHighestGrade = BestGrade(attempts, quiz)
	if remaining := p.MaxAttempt - p.AttemptCount; remaining > 0 {
		p.RemainingAttempts = remaining
	}
	return p, nil
}

func (s *Query) loadQuizzes(ctx context.Context, attempts []Attempt) (map[uuid.UUID]Quiz, error) {
	var (
		mu  sync.Mutex
		out = make(map[uuid.UUID]Quiz)
	)
	seen := make(map[uuid.UUID]struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogFetchConcurrency)
	for _, a := range attempts {
		if _, ok := seen[a.QuizID]; ok {
			continue
		}
		seen[a.QuizID] = struct{}{}
		quizID := a.QuizID
		g.Go(func() error {
			quiz, err := s.catalog.GetQuizWithQuestions(gctx, quizID)
			if err != nil {
				return err
			}
			mu.Lock()
			out[quizID] = quiz
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildView(a Attempt, q Quiz, now time.Time) AttemptView {
	if a.Answers == nil {
		a.Answers = []Answer{}
	}
	v := AttemptView{Attempt: a, TotalQuestions: len(q.Questions)}
	if a.Status == StatusFinished {
		g := GradeAttempt(a, q)
		v.TotalCorrect = &g.CorrectCount
		v.Grade = &g.Grade
		return v
	}
	v.ExpiresAt = ExpiresAt(a, q)
	v.RemainingSecs = remainingSeconds(a, q, now)
	return v
}

func pageMeta(f Filter, total, returned int) Page {
	p := Page{TotalItems: total, CurrentPage: 1, ItemsPerPage: returned}
	if f.Limit > 0 {
		p.ItemsPerPage = f.Limit
		if f.Page > 1 {
			p.CurrentPage = f.Page
		}
		p.TotalPages = (total + f.Limit - 1) / f.Limit
		return p
	}
	if total > 0 {
		p.TotalPages = 1
	}
	return p
}
