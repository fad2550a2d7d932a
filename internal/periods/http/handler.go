package periodshttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/scorecard/internal/periods"
	"github.com/odyssey-erp/scorecard/internal/platform/httpx"
	"github.com/odyssey-erp/scorecard/internal/shared"
)

const dateLayout = "2006-01-02"

type periodService interface {
	Create(ctx context.Context, actor shared.Actor, in periods.CreateInput, now time.Time) (periods.PeriodWithSnapshots, error)
	CreateFirst(ctx context.Context, actor shared.Actor, in periods.CreateInput, now time.Time) (periods.PeriodWithSnapshots, error)
	Freeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (periods.PeriodWithSnapshots, error)
	Refreeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (periods.PeriodWithSnapshots, error)
	AutoFreeze(ctx context.Context, actor shared.Actor, in periods.AutoFreezeInput, now time.Time) (periods.PeriodWithSnapshots, error)
	FindCurrent(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (periods.PeriodWithSnapshots, error)
	FindAll(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]periods.PeriodWithSnapshots, error)
	FirstReferenceDate(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (*time.Time, error)
	WindowStatus(ctx context.Context, actor shared.Actor, companyID uuid.UUID, now time.Time) (periods.WindowStatus, error)
	Evolution(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]periods.PillarSeries, error)
}

// Handler exposes evaluation period endpoints.
type Handler struct {
	logger    *slog.Logger
	service   periodService
	validator *validator.Validate
	clock     func() time.Time
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New(), clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (h *Handler) WithClock(clock func() time.Time) {
	if clock != nil {
		h.clock = clock
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/companies/{companyID}/evaluation-periods", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/current", h.current)
		r.Get("/first-reference-date", h.firstReferenceDate)
		r.Post("/first", h.createFirst)
		r.Get("/window", h.window)
		r.Get("/evolution.csv", h.evolutionCSV)
		r.Post("/auto-freeze", h.autoFreeze)
		r.Post("/{periodID}/freeze", h.freeze)
		r.Post("/{periodID}/refreeze", h.refreeze)
	})
}

type referenceDateRequest struct {
	ReferenceDate string `json:"reference_date" validate:"required,datetime=2006-01-02"`
}

type autoFreezeRequest struct {
	ReferenceDate string `json:"reference_date" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.service.FindAll(r.Context(), actor, companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	out, err := h.service.FindCurrent(r.Context(), actor, companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) firstReferenceDate(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	anchor, err := h.service.FirstReferenceDate(r.Context(), actor, companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var value *string
	if anchor != nil {
		s := anchor.Format(dateLayout)
		value = &s
	}
	httpx.JSON(w, http.StatusOK, map[string]*string{"first_reference_date": value})
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	status, err := h.service.WindowStatus(r.Context(), actor, companyID, h.clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) evolutionCSV(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	series, err := h.service.Evolution(r.Context(), actor, companyID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evolucao-%s.csv"`, companyID))
	if err := periods.WriteEvolutionCSV(w, series); err != nil {
		h.logger.Error("write evolution csv", slog.String("company_id", companyID.String()), slog.Any("error", err))
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.createWith(w, r, h.service.Create)
}

func (h *Handler) createFirst(w http.ResponseWriter, r *http.Request) {
	h.createWith(w, r, h.service.CreateFirst)
}

type createFunc func(ctx context.Context, actor shared.Actor, in periods.CreateInput, now time.Time) (periods.PeriodWithSnapshots, error)

func (h *Handler) createWith(w http.ResponseWriter, r *http.Request, fn createFunc) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req referenceDateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ref, _ := time.Parse(dateLayout, req.ReferenceDate)
	out, err := fn(r.Context(), actor, periods.CreateInput{CompanyID: companyID, ReferenceDate: ref}, h.clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) autoFreeze(w http.ResponseWriter, r *http.Request) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req autoFreezeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	in := periods.AutoFreezeInput{CompanyID: companyID}
	if req.ReferenceDate != "" {
		ref, _ := time.Parse(dateLayout, req.ReferenceDate)
		in.ReferenceDate = &ref
	}
	out, err := h.service.AutoFreeze(r.Context(), actor, in, h.clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) freeze(w http.ResponseWriter, r *http.Request) {
	h.freezeWith(w, r, h.service.Freeze)
}

func (h *Handler) refreeze(w http.ResponseWriter, r *http.Request) {
	h.freezeWith(w, r, h.service.Refreeze)
}

type freezeFunc func(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (periods.PeriodWithSnapshots, error)

func (h *Handler) freezeWith(w http.ResponseWriter, r *http.Request, fn freezeFunc) {
	actor, companyID, ok := h.scope(w, r)
	if !ok {
		return
	}
	periodID, err := uuid.Parse(chi.URLParam(r, "periodID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: period id", httpx.ErrValidation))
		return
	}
	out, err := fn(r.Context(), actor, companyID, periodID, h.clock())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Actor, uuid.UUID, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: caller identity missing", httpx.ErrUnauthorized))
		return shared.Actor{}, uuid.Nil, false
	}
	companyID, err := uuid.Parse(chi.URLParam(r, "companyID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: company id", httpx.ErrValidation))
		return shared.Actor{}, uuid.Nil, false
	}
	return actor, companyID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return h.validate(w, dest)
}

// decodeOptional is decode for endpoints whose body may be absent. An empty
// body, chunked or not, leaves dest at its zero value.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return h.validate(w, dest)
}

func (h *Handler) validate(w http.ResponseWriter, dest any) bool {
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.RespondError(w, fmt.Errorf("%w: %s is %s", httpx.ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag()))
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var closed *periods.WindowClosedError
	if errors.As(err, &closed) {
		httpx.ProblemWith(w, http.StatusUnprocessableEntity, "Precondition Failed", err.Error(), map[string]any{
			"window_start":  closed.Window.Start.Format(dateLayout),
			"window_end":    closed.Window.End.Format(dateLayout),
			"next_opens_at": closed.NextOpensAt.Format(dateLayout),
		})
		return
	}
	if periods.Outcome(err) == "error" {
		h.logger.Error("evaluation periods request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
