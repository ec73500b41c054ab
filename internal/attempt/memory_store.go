package attempt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps quizzes, users and attempts in process memory. Every
// method holds one mutex, which makes each call atomic.
type MemoryStore struct {
	mu       sync.Mutex
	quizzes  map[uuid.UUID]Quiz
	users    map[uuid.UUID]User
	attempts map[uuid.UUID]Attempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quizzes:  make(map[uuid.UUID]Quiz),
		users:    make(map[uuid.UUID]User),
		attempts: make(map[uuid.UUID]Attempt),
	}
}

func (s *MemoryStore) PutQuiz(q Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.ID] = q
}

func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Seed stores q and users in one step.
func (s *MemoryStore) Seed(_ context.Context, q Quiz, users ...User) error {
	s.PutQuiz(q)
	for _, u := range users {
		s.PutUser(u)
	}
	return nil
}

func (s *MemoryStore) GetQuizWithQuestions(_ context.Context, quizID uuid.UUID) (Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[quizID]
	if !ok {
		return Quiz{}, ErrQuizNotFound
	}
	return q, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID uuid.UUID) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) FindAttempts(_ context.Context, filter Filter) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.match(filter)
	sortAttempts(matched, filter.OrderBy)

	start := filter.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	out := make([]Attempt, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, cloneAttempt(a))
	}
	return out, nil
}

func (s *MemoryStore) CountAttempts(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.match(filter)), nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id uuid.UUID) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, a Attempt, maxAttempt int) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.match(Filter{QuizID: &a.QuizID, UserID: &a.UserID}))
	if count >= maxAttempt {
		return Attempt{}, ErrMaxAttemptsReached
	}
	a = cloneAttempt(a)
	s.attempts[a.ID] = a
	return cloneAttempt(a), nil
}

func (s *MemoryStore) UpdateAttempt(_ context.Context, id uuid.UUID, upd AttemptUpdate) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return Attempt{}, false, ErrAttemptNotFound
	}
	if upd.ReplaceAnswers {
		if a.Status != StatusOnProgress {
			return Attempt{}, false, ErrAttemptFinished
		}
		a.Answers = append([]Answer{}, upd.Answers...)
	}
	finished := false
	if upd.FinishAt != nil && a.Status == StatusOnProgress {
		t := *upd.FinishAt
		a.Status = StatusFinished
		a.FinishAt = &t
		finished = true
	}
	s.attempts[id] = a
	return cloneAttempt(a), finished, nil
}

func (s *MemoryStore) DeleteAttempt(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[id]; !ok {
		return ErrAttemptNotFound
	}
	delete(s.attempts, id)
	return nil
}

func (s *MemoryStore) match(f Filter) []Attempt {
	out := make([]Attempt, 0)
	for _, a := range s.attempts {
		if f.QuizID != nil && a.QuizID != *f.QuizID {
			continue
		}
		if f.UserID != nil && a.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out
}

// sortAttempts mirrors OrderClause, including NULL finish_at sorting last on
// ascending order.
func sortAttempts(list []Attempt, orders []Order) {
	keys := make([]Order, 0, len(orders)+1)
	for _, o := range orders {
		if SortableField(o.Field) {
			keys = append(keys, o)
		}
	}
	if len(keys) == 0 {
		keys = append(keys, Order{Field: "created_at"})
	}
	sort.SliceStable(list, func(i, j int) bool {
		for _, o := range keys {
			c := compareField(list[i], list[j], o.Field)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

func compareField(a, b Attempt, field string) int {
	switch field {
	case "status":
		return compareString(string(a.Status), string(b.Status))
	case "start_at":
		return compareTime(a.StartAt, b.StartAt)
	case "finish_at":
		switch {
		case a.FinishAt == nil && b.FinishAt == nil:
			return 0
		case a.FinishAt == nil:
			return 1
		case b.FinishAt == nil:
			return -1
		}
		return compareTime(*a.FinishAt, *b.FinishAt)
	default:
		return compareTime(a.CreatedAt, b.CreatedAt)
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func cloneAttempt(a Attempt) Attempt {
	if a.FinishAt != nil {
		t := *a.FinishAt
		a.FinishAt = &t
	}
	a.Answers = append([]Answer{}, a.Answers...)
	return a
}
