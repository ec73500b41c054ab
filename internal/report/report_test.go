package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lmsquiz/internal/attempt"
	"lmsquiz/internal/attempt/attempttest"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	quiz  attempt.Quiz
	users []attempt.User
}

// newFixture seeds one quiz with four attempts: the first learner scores 50
// then 100, the second scores 0 and the third is still in progress.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := attempt.NewMemoryStore()
	quiz := attempttest.SampleQuiz(3)
	users := []attempt.User{
		{ID: uuid.New(), Name: "Ana", Role: "STUDENT"},
		{ID: uuid.New(), Name: "Budi", Role: "STUDENT"},
		{ID: uuid.New(), Name: "Citra", Role: "STUDENT"},
	}
	if err := store.Seed(ctx, quiz, users...); err != nil {
		t.Fatalf("seed: %v", err)
	}
	lifecycle := attempt.NewLifecycle(store, store, nil)
	query := attempt.NewQuery(store, store, lifecycle)

	q1, q2 := quiz.Questions[0], quiz.Questions[1]
	allRight := []attempt.Answer{
		{QuestionID: q1.ID, OptionID: q1.Options[0].ID},
		{QuestionID: q2.ID, OptionID: q2.Options[0].ID},
		{QuestionID: q2.ID, OptionID: q2.Options[1].ID},
	}
	halfRight := allRight[:2]
	allWrong := []attempt.Answer{{QuestionID: q1.ID, OptionID: q1.Options[1].ID}}

	runs := []struct {
		user    attempt.User
		answers []attempt.Answer
		finish  bool
	}{
		{users[0], halfRight, true},
		{users[0], allRight, true},
		{users[1], allWrong, true},
		{users[2], allRight, false},
	}
	now := t0.Add(time.Minute)
	for i, run := range runs {
		a, err := lifecycle.Create(ctx, quiz.ID, run.user.ID, now)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		viewer := attempt.Viewer{UserID: run.user.ID}
		if _, err := lifecycle.ReplaceAnswers(ctx, viewer, a.ID, run.answers, now); err != nil {
			t.Fatalf("answers %d: %v", i, err)
		}
		if run.finish {
			at := now.Add(5 * time.Minute)
			if _, err := lifecycle.Finish(ctx, viewer, a.ID, &at, now); err != nil {
				t.Fatalf("finish %d: %v", i, err)
			}
		}
	}
	return fixture{svc: NewService(query, store), quiz: quiz, users: users}
}

func TestSummaryByQuiz(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.SummaryByQuiz(context.Background(), f.quiz.ID, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := QuizSummary{
		QuizID:             f.quiz.ID,
		Title:              f.quiz.Title,
		Participants:       3,
		GradedParticipants: 2,
		TotalAttempts:      4,
		FinishedAttempts:   3,
		AverageGrade:       50,
		HighestGrade:       100,
		LowestGrade:        0,
	}
	if *got != want {
		t.Fatalf("unexpected summary\nwant %+v\ngot  %+v", want, *got)
	}
}

func TestSummaryCountsReapedAttempts(t *testing.T) {
	f := newFixture(t)
	// past the 30 minute budget the in-progress attempt is finished with its answers
	got, err := f.svc.SummaryByQuiz(context.Background(), f.quiz.ID, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.GradedParticipants != 3 || got.FinishedAttempts != 4 {
		t.Fatalf("expected reaped attempt to be graded, got %+v", *got)
	}
	if got.AverageGrade != 66.67 {
		t.Fatalf("expected average 66.67, got %v", got.AverageGrade)
	}
}

func TestSummaryUnknownQuiz(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SummaryByQuiz(context.Background(), uuid.New(), t0); !errors.Is(err, attempt.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

func TestExportQuizAttempts(t *testing.T) {
	f := newFixture(t)
	data, err := f.svc.ExportQuizAttempts(context.Background(), f.quiz.ID, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()
	rows, err := book.GetRows(book.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header and 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "attempt_id" || rows[0][8] != "grade" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	names := map[string]int{}
	for _, row := range rows[1:] {
		names[row[2]]++
		if row[3] == string(attempt.StatusOnProgress) && len(row) > 8 && row[8] != "" {
			t.Fatalf("in-progress attempt must have no grade: %v", row)
		}
	}
	if names["Ana"] != 2 || names["Budi"] != 1 || names["Citra"] != 1 {
		t.Fatalf("unexpected learner rows %v", names)
	}
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	h.now = func() time.Time { return t0.Add(10 * time.Minute) }

	tests := []struct {
		name   string
		call   http.HandlerFunc
		id     string
		status int
	}{
		{name: "summary", call: h.Summary, id: f.quiz.ID.String(), status: http.StatusOK},
		{name: "summary bad id", call: h.Summary, id: "nope", status: http.StatusBadRequest},
		{name: "summary unknown quiz", call: h.Summary, id: uuid.NewString(), status: http.StatusNotFound},
		{name: "export", call: h.Export, id: f.quiz.ID.String(), status: http.StatusOK},
		{name: "export unknown quiz", call: h.Export, id: uuid.NewString(), status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", tc.id)
			w := httptest.NewRecorder()
			tc.call(w, req)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}

	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", f.quiz.ID.String())
	w := httptest.NewRecorder()
	h.Summary(w, req)
	var body struct {
		OK   bool        `json:"ok"`
		Data QuizSummary `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Data.Participants != 3 {
		t.Fatalf("unexpected body %+v", body)
	}

	req = withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", f.quiz.ID.String())
	w = httptest.NewRecorder()
	h.Export(w, req)
	if ct := w.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
}
