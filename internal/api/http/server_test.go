package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository/memory"
	"library-circulation-backend/internal/security"
	"library-circulation-backend/internal/service"
)

type testClock struct{ t time.Time }

func (c testClock) Now() time.Time { return c.t }

type apiEnv struct {
	router http.Handler
	tokens security.TokenManager
	staff  string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := memory.NewStore()
	clock := testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	notifier := service.NewEmailService("", "", "")
	sanctions := service.NewSanctionService(store, clock, notifier)
	svc := Services{
		Catalog:      service.NewCatalogService(store),
		Availability: service.NewAvailabilityService(store, clock),
		Loans:        service.NewLoanService(store, clock, sanctions, notifier),
		Sanctions:    sanctions,
		Inventory:    service.NewInventoryService(store, clock),
		Patrons:      service.NewPatronService(store, clock, sanctions),
	}
	tokens := security.NewTokenManager("0123456789abcdef0123456789abcdef", time.Hour)
	staff, err := tokens.GenerateAccessToken(domain.StaffActor(1))
	require.NoError(t, err)
	return &apiEnv{router: NewRouter(NewHandler(svc, tokens)), tokens: tokens, staff: staff}
}

func (e *apiEnv) patronToken(t *testing.T, id int32) string {
	t.Helper()
	token, err := e.tokens.GenerateAccessToken(domain.PatronActor(id))
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	e := newAPIEnv(t)
	rec, body := e.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuthMiddleware(t *testing.T) {
	e := newAPIEnv(t)
	copyBody := `{"name":"Emma","author":"Jane Austen","category_id":1}`

	rec, body := e.do(t, http.MethodPost, "/api/v1/copies", "", copyBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", body["error"])

	rec, _ = e.do(t, http.MethodPost, "/api/v1/copies", "garbage", copyBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = e.do(t, http.MethodPost, "/api/v1/copies", e.patronToken(t, 5), copyBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", body["error"])

	rec, _ = e.do(t, http.MethodPost, "/api/v1/copies", e.staff, copyBody)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, body = e.do(t, http.MethodGet, "/api/v1/titles", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestReservationFlow(t *testing.T) {
	e := newAPIEnv(t)

	rec, copyBody := e.do(t, http.MethodPost, "/api/v1/copies", e.staff, `{"name":"T","author":"A","category_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	titleID := int(copyBody["title_id"].(float64))

	rec, p1 := e.do(t, http.MethodPost, "/api/v1/patrons", e.staff, `{"national_id":"P1","email":"p1@example.org","name":"Ana"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec, p2 := e.do(t, http.MethodPost, "/api/v1/patrons", e.staff, `{"national_id":"P2","email":"p2@example.org","name":"Ben"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	p1Token := e.patronToken(t, int32(p1["id"].(float64)))
	p2Token := e.patronToken(t, int32(p2["id"].(float64)))

	reserve := fmt.Sprintf(`{"title_id":%d,"start_date":"2026-03-02","end_date":"2026-03-07"}`, titleID)
	rec, loan := e.do(t, http.MethodPost, "/api/v1/reservations", p1Token, reserve)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", loan["state"])
	loanPath := fmt.Sprintf("/api/v1/loans/%d", int(loan["id"].(float64)))

	rec, body := e.do(t, http.MethodPost, loanPath+"/reject", e.staff, `{"reason":"  "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MISSING_REASON", body["error"])

	rec, body = e.do(t, http.MethodPost, loanPath+"/approve", e.staff, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", body["state"])

	rec, body = e.do(t, http.MethodPost, loanPath+"/approve", e.staff, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_PENDING", body["error"])

	rec, body = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/titles/%d/stock", titleID), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["loaned"])

	early := fmt.Sprintf(`{"title_id":%d,"start_date":"2026-03-03","end_date":"2026-03-05"}`, titleID)
	rec, body = e.do(t, http.MethodPost, "/api/v1/reservations", p2Token, early)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DATE_BEFORE_ESTIMATED_AVAILABILITY", body["error"])
	assert.Equal(t, "2026-03-12", body["estimated_availability"])

	rec, body = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/titles/%d/availability", titleID), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-03-12", body["estimated_availability"])

	rec, body = e.do(t, http.MethodGet, loanPath, p2Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_OWNER", body["error"])

	rec, body = e.do(t, http.MethodGet, "/api/v1/patrons/me/loans", p1Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	cancelPath := func(id float64) string {
		return fmt.Sprintf("/api/v1/reservations/%d/cancel", int(id))
	}

	rec, body = e.do(t, http.MethodPost, cancelPath(loan["id"].(float64)), p1Token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_PENDING", body["error"])

	queued := fmt.Sprintf(`{"title_id":%d,"start_date":"2026-03-12","end_date":"2026-03-14"}`, titleID)
	rec, second := e.do(t, http.MethodPost, "/api/v1/reservations", p2Token, queued)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", second["state"])

	rec, body = e.do(t, http.MethodPost, cancelPath(second["id"].(float64)), p1Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_OWNER", body["error"])

	rec, body = e.do(t, http.MethodPost, cancelPath(second["id"].(float64)), p2Token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", body["state"])
	assert.Equal(t, "cancelled by patron", body["rejection_reason"])
}

func TestNotFoundAndValidation(t *testing.T) {
	e := newAPIEnv(t)

	rec, body := e.do(t, http.MethodGet, "/api/v1/titles/99/copies", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])

	rec, body = e.do(t, http.MethodPost, "/api/v1/loans", e.staff, `{"copy_id":1,"start_date":"2026-02-30","end_date":"2026-03-01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", body["error"])

	rec, _ = e.do(t, http.MethodPost, "/api/v1/copies", e.staff, `{not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/api/v1/titles?page=abc", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWriteError_Consistency(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loans/1/approve", nil)
	rec := httptest.NewRecorder()
	writeError(rec, req, fmt.Errorf("copy 3 is lost: %w", domain.ErrConsistency))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"retryable":true`)

	rec = httptest.NewRecorder()
	writeError(rec, req, errors.New("connection reset"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}
