package attempt

import (
	"math"

	"github.com/google/uuid"
)

type Grade struct {
	CorrectCount   int     `json:"total_correct"`
	TotalQuestions int     `json:"total_questions"`
	Grade          float64 `json:"grade"`
}

// GradeAttempt scores every question of q against the options recorded in a.
// A question counts only when the selected option set equals the correct set.
func GradeAttempt(a Attempt, q Quiz) Grade {
	selected := make(map[uuid.UUID][]uuid.UUID, len(q.Questions))
	for _, ans := range a.Answers {
		selected[ans.QuestionID] = append(selected[ans.QuestionID], ans.OptionID)
	}

	correct := 0
	for _, question := range q.Questions {
		if equalSet(selected[question.ID], correctOptions(question)) {
			correct++
		}
	}

	total := len(q.Questions)
	return Grade{
		CorrectCount:   correct,
		TotalQuestions: total,
		Grade:          gradePercent(correct, total),
	}
}

// BestGrade returns the highest grade among the FINISHED attempts, or nil when
// there is none.
func BestGrade(attempts []Attempt, q Quiz) *float64 {
	var best *float64
	for _, a := range attempts {
		if a.Status != StatusFinished {
			continue
		}
		g := GradeAttempt(a, q).Grade
		if best == nil || g > *best {
			v := g
			best = &v
		}
	}
	return best
}

func gradePercent(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(100 * float64(correct) / float64(total))
}

// round2 rounds half away from zero; grades are never negative.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func correctOptions(q Question) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(q.Options))
	for _, opt := range q.Options {
		if opt.IsCorrect {
			out = append(out, opt.ID)
		}
	}
	return out
}

// equalSet compares as sets, so a duplicated selection does not change the
// outcome.
func equalSet(a, b []uuid.UUID) bool {
	setA := make(map[uuid.UUID]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[uuid.UUID]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for k := range setA {
		if _, ok := setB[k]; !ok {
			return false
		}
	}
	return true
}
