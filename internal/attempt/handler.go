package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"lmsquiz/internal/app/apiresp"
	"lmsquiz/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxPageLimit = 100

type lifecycleService interface {
	Create(ctx context.Context, quizID, userID uuid.UUID, now time.Time) (Attempt, error)
	Submit(ctx context.Context, viewer Viewer, id uuid.UUID, in UpdateInput, now time.Time) (Attempt, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type queryService interface {
	Get(ctx context.Context, viewer Viewer, id uuid.UUID, now time.Time) (AttemptView, error)
	List(ctx context.Context, viewer Viewer, filter Filter, now time.Time) ([]AttemptView, Page, error)
	Progress(ctx context.Context, viewer Viewer, quizIDs []uuid.UUID, now time.Time) ([]QuizProgress, error)
}

type Handler struct {
	lifecycle    lifecycleService
	query        queryService
	validate     *validator.Validate
	defaultLimit int
	now          func() time.Time
}

type createAttemptRequest struct {
	QuizID string `json:"quiz_id" validate:"required,uuid"`
	UserID string `json:"user_id" validate:"omitempty,uuid"`
}

type answerRequest struct {
	QuestionID string `json:"quiz_question_id" validate:"required,uuid"`
	OptionID   string `json:"quiz_option_answer_id" validate:"required,uuid"`
}

type updateAttemptRequest struct {
	Status   *string          `json:"status" validate:"omitempty,oneof=ON_PROGRESS FINISHED"`
	FinishAt *time.Time       `json:"finish_at"`
	Answers  *[]answerRequest `json:"quiz_attempt_question_answers" validate:"omitempty,dive"`
}

func NewHandler(lifecycle lifecycleService, query queryService, defaultLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &Handler{
		lifecycle:    lifecycle,
		query:        query,
		validate:     newValidator(),
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := user.ID
	if req.UserID != "" {
		target := uuid.MustParse(req.UserID)
		if target != user.ID && !user.IsAdmin() {
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
			return
		}
		userID = target
	}

	created, err := h.lifecycle.Create(r.Context(), uuid.MustParse(req.QuizID), userID, h.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, created)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := attemptIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.query.Get(r.Context(), viewerOf(user), id, h.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	filter, fieldErrs := h.parseFilter(r)
	if len(fieldErrs) > 0 {
		apiresp.WriteValidation(w, r, fieldErrs)
		return
	}

	items, page, err := h.query.List(r.Context(), viewerOf(user), filter, h.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WritePage(w, r, items, page)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := attemptIDParam(w, r)
	if !ok {
		return
	}

	var req updateAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := UpdateInput{FinishAt: req.FinishAt}
	if req.Status != nil {
		status := Status(*req.Status)
		in.Status = &status
	}
	if req.Answers != nil {
		answers := make([]Answer, 0, len(*req.Answers))
		for _, a := range *req.Answers {
			answers = append(answers, Answer{
				QuestionID: uuid.MustParse(a.QuestionID),
				OptionID:   uuid.MustParse(a.OptionID),
			})
		}
		in.Answers = &answers
	}

	viewer := viewerOf(user)
	now := h.now()
	if _, err := h.lifecycle.Submit(r.Context(), viewer, id, in, now); err != nil {
		writeDomainError(w, r, err)
		return
	}
	view, err := h.query.Get(r.Context(), viewer, id, now)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := attemptIDParam(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Delete(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"id": id.String()})
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	raw := r.URL.Query()["quiz_id"]
	if len(raw) == 0 {
		apiresp.WriteValidation(w, r, map[string]string{"quiz_id": "this field is required"})
		return
	}
	quizIDs := make([]uuid.UUID, 0, len(raw))
	for _, group := range raw {
		for _, s := range strings.Split(group, ",") {
			id, err := uuid.Parse(strings.TrimSpace(s))
			if err != nil {
				apiresp.WriteValidation(w, r, map[string]string{"quiz_id": "must be a valid UUID"})
				return
			}
			quizIDs = append(quizIDs, id)
		}
	}

	items, err := h.query.Progress(r.Context(), Viewer{UserID: user.ID}, quizIDs, h.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			apiresp.WriteValidation(w, r, fieldMessages(verrs))
			return false
		}
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseFilter reads quiz_id, user_id, status, order_by=field:dir[,field:dir],
// page and limit from the query string.
func (h *Handler) parseFilter(r *http.Request) (Filter, map[string]string) {
	q := r.URL.Query()
	errs := map[string]string{}
	f := Filter{Page: 1, Limit: h.defaultLimit}

	if s := strings.TrimSpace(q.Get("quiz_id")); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			errs["quiz_id"] = "must be a valid UUID"
		} else {
			f.QuizID = &id
		}
	}
	if s := strings.TrimSpace(q.Get("user_id")); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			errs["user_id"] = "must be a valid UUID"
		} else {
			f.UserID = &id
		}
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		f.Status = Status(strings.ToUpper(s))
		if !f.Status.Valid() {
			errs["status"] = "must be one of [ON_PROGRESS FINISHED]"
		}
	}
	if s := strings.TrimSpace(q.Get("order_by")); s != "" {
		for _, part := range strings.Split(s, ",") {
			field, dir, _ := strings.Cut(strings.TrimSpace(part), ":")
			field = strings.ToLower(strings.TrimSpace(field))
			dir = strings.ToLower(strings.TrimSpace(dir))
			if !SortableField(field) || (dir != "" && dir != "asc" && dir != "desc") {
				errs["order_by"] = "must be field[:asc|desc] with field in status, start_at, finish_at, created_at"
				break
			}
			f.OrderBy = append(f.OrderBy, Order{Field: field, Desc: dir == "desc"})
		}
	}
	if s := strings.TrimSpace(q.Get("page")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			errs["page"] = "must be a positive integer"
		} else {
			f.Page = n
		}
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageLimit {
			errs["limit"] = fmt.Sprintf("must be between 1 and %d", maxPageLimit)
		} else {
			f.Limit = n
		}
	}
	return f, errs
}

func fieldMessages(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// drop the struct name, keep the json path
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		switch fe.Tag() {
		case "required":
			out[key] = "this field is required"
		case "uuid":
			out[key] = "must be a valid UUID"
		case "oneof":
			out[key] = "must be one of [" + fe.Param() + "]"
		default:
			out[key] = "failed on " + fe.Tag()
		}
	}
	return out
}

func attemptIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return uuid.Nil, false
	}
	return id, true
}

func viewerOf(user *auth.User) Viewer {
	return Viewer{UserID: user.ID, Privileged: user.IsAdmin()}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrRejected):
		apiresp.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalid):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		log.Printf("attempt handler error: %v", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
