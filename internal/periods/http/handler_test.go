package periodshttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scorecard/internal/periods"
	"github.com/odyssey-erp/scorecard/internal/shared"
)

type stubService struct {
	lastActor   shared.Actor
	lastCreate  periods.CreateInput
	lastAuto    periods.AutoFreezeInput
	lastPeriod  uuid.UUID
	lastNow     time.Time
	err         error
	anchor      *time.Time
	series      []periods.PillarSeries
	createCalls string
}

func (s *stubService) result(companyID uuid.UUID) periods.PeriodWithSnapshots {
	return periods.PeriodWithSnapshots{Period: periods.Period{ID: uuid.New(), CompanyID: companyID, Open: true}, Snapshots: []periods.Snapshot{}}
}

func (s *stubService) Create(ctx context.Context, actor shared.Actor, in periods.CreateInput, now time.Time) (periods.PeriodWithSnapshots, error) {
	s.lastActor, s.lastCreate, s.lastNow, s.createCalls = actor, in, now, "create"
	return s.result(in.CompanyID), s.err
}

func (s *stubService) CreateFirst(ctx context.Context, actor shared.Actor, in periods.CreateInput, now time.Time) (periods.PeriodWithSnapshots, error) {
	s.lastActor, s.lastCreate, s.lastNow, s.createCalls = actor, in, now, "first"
	return s.result(in.CompanyID), s.err
}

func (s *stubService) Freeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (periods.PeriodWithSnapshots, error) {
	s.lastActor, s.lastPeriod, s.lastNow = actor, periodID, now
	return s.result(companyID), s.err
}

func (s *stubService) Refreeze(ctx context.Context, actor shared.Actor, companyID, periodID uuid.UUID, now time.Time) (periods.PeriodWithSnapshots, error) {
	s.lastActor, s.lastPeriod, s.lastNow = actor, periodID, now
	return s.result(companyID), s.err
}

func (s *stubService) AutoFreeze(ctx context.Context, actor shared.Actor, in periods.AutoFreezeInput, now time.Time) (periods.PeriodWithSnapshots, error) {
	s.lastActor, s.lastAuto, s.lastNow = actor, in, now
	if s.err != nil {
		return periods.PeriodWithSnapshots{}, s.err
	}
	return s.result(in.CompanyID), nil
}

func (s *stubService) FindCurrent(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (periods.PeriodWithSnapshots, error) {
	return s.result(companyID), s.err
}

func (s *stubService) FindAll(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]periods.PeriodWithSnapshots, error) {
	return []periods.PeriodWithSnapshots{s.result(companyID)}, s.err
}

func (s *stubService) FirstReferenceDate(ctx context.Context, actor shared.Actor, companyID uuid.UUID) (*time.Time, error) {
	return s.anchor, s.err
}

func (s *stubService) WindowStatus(ctx context.Context, actor shared.Actor, companyID uuid.UUID, now time.Time) (periods.WindowStatus, error) {
	s.lastNow = now
	return periods.WindowStatus{}, s.err
}

func (s *stubService) Evolution(ctx context.Context, actor shared.Actor, companyID uuid.UUID) ([]periods.PillarSeries, error) {
	return s.series, s.err
}

var fixedNow = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func newRouter(svc *stubService) http.Handler {
	h := NewHandler(nil, svc)
	h.WithClock(func() time.Time { return fixedNow })
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func manager(companyID uuid.UUID) *shared.Actor {
	return &shared.Actor{ID: uuid.New(), Role: shared.RoleManager, CompanyID: &companyID}
}

func TestCreatePassesReferenceDateAndClock(t *testing.T) {
	svc := &stubService{}
	companyID := uuid.New()

	rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods", `{"reference_date":"2026-05-02"}`, manager(companyID))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "create", svc.createCalls)
	require.Equal(t, companyID, svc.lastCreate.CompanyID)
	require.Equal(t, "2026-05-02", svc.lastCreate.ReferenceDate.Format(dateLayout))
	require.Equal(t, fixedNow, svc.lastNow)
}

func TestCreateFirstRoute(t *testing.T) {
	svc := &stubService{}
	companyID := uuid.New()

	rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/first", `{"reference_date":"2026-02-01"}`, manager(companyID))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "first", svc.createCalls)
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	companyID := uuid.New()
	router := newRouter(&stubService{})

	for _, body := range []string{`{"reference_date":"02/05/2026"}`, `{}`, `{"reference_date":"2026-05-02","extra":1}`, `{`} {
		rr := do(t, router, http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods", body, manager(companyID))
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	rr := do(t, newRouter(&stubService{}), http.MethodGet, "/companies/"+uuid.NewString()+"/evaluation-periods", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInvalidCompanyID(t *testing.T) {
	companyID := uuid.New()
	rr := do(t, newRouter(&stubService{}), http.MethodGet, "/companies/abc/evaluation-periods/current", "", manager(companyID))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAutoFreezeWindowClosedReportsNextOpening(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{err: &periods.WindowClosedError{
		Window: periods.Window{
			Number: 1,
			Start:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		NextOpensAt: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	}}

	rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/auto-freeze", `{"reference_date":"2026-02-01"}`, manager(companyID))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "2026-05-02", body["next_opens_at"])
	require.Equal(t, "2026-05-01", body["window_end"])
	require.NotNil(t, svc.lastAuto.ReferenceDate)
}

func TestAutoFreezeWithoutBody(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{}

	rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/auto-freeze", "", manager(companyID))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Nil(t, svc.lastAuto.ReferenceDate)
}

func TestAutoFreezeWithEmptyChunkedBody(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{}

	req := httptest.NewRequest(http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/auto-freeze", io.NopCloser(strings.NewReader("")))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithActor(req.Context(), *manager(companyID)))
	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, companyID, svc.lastAuto.CompanyID)
	require.Nil(t, svc.lastAuto.ReferenceDate)
}

func TestAutoFreezeRejectsMalformedBody(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{}

	rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/auto-freeze", `{"reference_date":`, manager(companyID))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFreezeAndRefreezeRoutes(t *testing.T) {
	companyID := uuid.New()
	periodID := uuid.New()
	svc := &stubService{}
	router := newRouter(svc)

	for _, action := range []string{"freeze", "refreeze"} {
		rr := do(t, router, http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/"+periodID.String()+"/"+action, "", manager(companyID))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, periodID, svc.lastPeriod)
	}

	rr := do(t, router, http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/nope/freeze", "", manager(companyID))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	companyID := uuid.New()
	cases := map[error]int{
		periods.ErrPeriodNotFound:   http.StatusNotFound,
		periods.ErrRefreezeRole:     http.StatusForbidden,
		shared.ErrAccessDenied:      http.StatusForbidden,
		periods.ErrPeriodNotClosed:  http.StatusUnprocessableEntity,
		periods.ErrConcurrentFreeze: http.StatusConflict,
	}
	for err, status := range cases {
		svc := &stubService{err: err}
		rr := do(t, newRouter(svc), http.MethodPost, "/companies/"+companyID.String()+"/evaluation-periods/"+uuid.NewString()+"/refreeze", "", manager(companyID))
		require.Equal(t, status, rr.Code, err.Error())
	}
}

func TestFirstReferenceDate(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{}
	router := newRouter(svc)
	path := "/companies/" + companyID.String() + "/evaluation-periods/first-reference-date"

	rr := do(t, router, http.MethodGet, path, "", manager(companyID))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"first_reference_date":null}`, rr.Body.String())

	anchor := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.anchor = &anchor
	rr = do(t, router, http.MethodGet, path, "", manager(companyID))
	require.JSONEq(t, `{"first_reference_date":"2026-02-01"}`, rr.Body.String())
}

func TestListAndWindow(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{}
	router := newRouter(svc)
	base := "/companies/" + companyID.String() + "/evaluation-periods"

	rr := do(t, router, http.MethodGet, base, "", manager(companyID))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []periods.PeriodWithSnapshots
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rr = do(t, router, http.MethodGet, base+"/window", "", manager(companyID))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, fixedNow, svc.lastNow)
}

func TestEvolutionCSV(t *testing.T) {
	companyID := uuid.New()
	svc := &stubService{series: []periods.PillarSeries{{
		PillarName: "Financeiro",
		Points: []periods.EvolutionPoint{{
			ReferenceDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			Quarter:       1,
			Year:          2026,
			Average:       7,
		}},
	}}}

	rr := do(t, newRouter(svc), http.MethodGet, "/companies/"+companyID.String()+"/evaluation-periods/evolution.csv", "", manager(companyID))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "Financeiro;2026-02-01;T1/2026;7,00")
}
