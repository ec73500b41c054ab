package report

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"lmsquiz/internal/attempt"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

type attemptLister interface {
	List(ctx context.Context, viewer attempt.Viewer, filter attempt.Filter, now time.Time) ([]attempt.AttemptView, attempt.Page, error)
}

type Service struct {
	attempts attemptLister
	catalog  attempt.Catalog
}

// QuizSummary aggregates each learner's best grade on one quiz. Learners
// without a FINISHED attempt count as participants but not in the grade
// statistics.
type QuizSummary struct {
	QuizID             uuid.UUID `json:"quiz_id"`
	Title              string    `json:"title"`
	Participants       int       `json:"participants"`
	GradedParticipants int       `json:"graded_participants"`
	TotalAttempts      int       `json:"total_attempts"`
	FinishedAttempts   int       `json:"finished_attempts"`
	AverageGrade       float64   `json:"average_grade"`
	HighestGrade       float64   `json:"highest_grade"`
	LowestGrade        float64   `json:"lowest_grade"`
}

func NewService(attempts attemptLister, catalog attempt.Catalog) *Service {
	return &Service{attempts: attempts, catalog: catalog}
}

// reportViewer reads every learner's attempts.
var reportViewer = attempt.Viewer{Privileged: true}

func (s *Service) SummaryByQuiz(ctx context.Context, quizID uuid.UUID, now time.Time) (*QuizSummary, error) {
	quiz, err := s.catalog.GetQuizWithQuestions(ctx, quizID)
	if err != nil {
		return nil, err
	}
	views, err := s.quizAttempts(ctx, quizID, now)
	if err != nil {
		return nil, err
	}

	out := &QuizSummary{QuizID: quiz.ID, Title: quiz.Title, TotalAttempts: len(views)}
	best := map[uuid.UUID]float64{}
	seen := map[uuid.UUID]struct{}{}
	for _, v := range views {
		seen[v.UserID] = struct{}{}
		if v.Grade == nil {
			continue
		}
		out.FinishedAttempts++
		if cur, ok := best[v.UserID]; !ok || *v.Grade > cur {
			best[v.UserID] = *v.Grade
		}
	}
	out.Participants = len(seen)
	out.GradedParticipants = len(best)
	if len(best) == 0 {
		return out, nil
	}

	out.LowestGrade = math.MaxFloat64
	sum := 0.0
	for _, g := range best {
		sum += g
		if g > out.HighestGrade {
			out.HighestGrade = g
		}
		if g < out.LowestGrade {
			out.LowestGrade = g
		}
	}
	out.AverageGrade = math.Round(sum/float64(len(best))*100) / 100
	return out, nil
}

// ExportQuizAttempts renders every attempt of the quiz, one row each, as an
// XLSX workbook.
func (s *Service) ExportQuizAttempts(ctx context.Context, quizID uuid.UUID, now time.Time) ([]byte, error) {
	if _, err := s.catalog.GetQuizWithQuestions(ctx, quizID); err != nil {
		return nil, err
	}
	views, err := s.quizAttempts(ctx, quizID, now)
	if err != nil {
		return nil, err
	}

	names := map[uuid.UUID]string{}
	for _, v := range views {
		if _, ok := names[v.UserID]; ok {
			continue
		}
		u, err := s.catalog.GetUser(ctx, v.UserID)
		if err != nil {
			names[v.UserID] = ""
			continue
		}
		names[v.UserID] = u.Name
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	headers := []string{"attempt_id", "user_id", "user_name", "status", "start_at", "finish_at", "total_questions", "total_correct", "grade"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, v := range views {
		row := i + 2
		finishAt := ""
		if v.FinishAt != nil {
			finishAt = v.FinishAt.UTC().Format("2006-01-02 15:04:05")
		}
		var correct, grade any = "", ""
		if v.TotalCorrect != nil {
			correct = *v.TotalCorrect
		}
		if v.Grade != nil {
			grade = *v.Grade
		}
		values := []any{
			v.ID.String(),
			v.UserID.String(),
			names[v.UserID],
			string(v.Status),
			v.StartAt.UTC().Format("2006-01-02 15:04:05"),
			finishAt,
			v.TotalQuestions,
			correct,
			grade,
		}
		for col, val := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, val)
		}
	}
	_ = f.SetColWidth(sheet, "A", "C", 38)
	_ = f.SetColWidth(sheet, "D", "I", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) quizAttempts(ctx context.Context, quizID uuid.UUID, now time.Time) ([]attempt.AttemptView, error) {
	views, _, err := s.attempts.List(ctx, reportViewer, attempt.Filter{
		QuizID:  &quizID,
		OrderBy: []attempt.Order{{Field: "start_at"}},
	}, now)
	if err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].UserID.String() < views[j].UserID.String()
	})
	return views, nil
}
