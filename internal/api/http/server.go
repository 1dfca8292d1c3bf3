package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"library-circulation-backend/internal/config"
	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/logger"
	"library-circulation-backend/internal/security"
	"library-circulation-backend/internal/service"
)

type contextKey int

const (
	actorKey contextKey = iota
	requestIDKey
)

// Services bundles what the handlers call.
type Services struct {
	Catalog      service.CatalogService
	Availability service.AvailabilityService
	Loans        service.LoanService
	Sanctions    service.SanctionService
	Inventory    service.InventoryService
	Patrons      service.PatronService
}

type Handler struct {
	svc    Services
	tokens security.TokenManager
}

func NewHandler(svc Services, tokens security.TokenManager) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

// ActorFromContext returns the authenticated caller set by the auth middleware.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRouter registers every route on a gorilla/mux router. Route names key
// the security levels in config.RouteSecurityConfig.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware, h.authMiddleware)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet).Name("Health")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/titles", h.listTitles).Methods(http.MethodGet).Name("ListTitles")
	api.HandleFunc("/titles/{id:[0-9]+}/copies", h.copiesOf).Methods(http.MethodGet).Name("CopiesOf")
	api.HandleFunc("/titles/{id:[0-9]+}/stock", h.stockOf).Methods(http.MethodGet).Name("StockOf")
	api.HandleFunc("/titles/{id:[0-9]+}/availability", h.availability).Methods(http.MethodGet).Name("EstimatedAvailability")

	api.HandleFunc("/copies", h.registerCopy).Methods(http.MethodPost).Name("RegisterCopy")
	api.HandleFunc("/copies/bulk", h.registerCopies).Methods(http.MethodPost).Name("RegisterCopies")
	api.HandleFunc("/copies/{id:[0-9]+}/condition", h.updateCondition).Methods(http.MethodPatch).Name("UpdateCondition")
	api.HandleFunc("/copies/{id:[0-9]+}/location", h.relocate).Methods(http.MethodPatch).Name("RelocateCopy")
	api.HandleFunc("/copies/{id:[0-9]+}/discard", h.discard).Methods(http.MethodPost).Name("DiscardToCommunity")
	api.HandleFunc("/copies/{id:[0-9]+}", h.deleteCopy).Methods(http.MethodDelete).Name("DeleteCopy")

	api.HandleFunc("/loans", h.createDirectLoan).Methods(http.MethodPost).Name("CreateDirectLoan")
	api.HandleFunc("/loans", h.listLoans).Methods(http.MethodGet).Name("ListLoans")
	api.HandleFunc("/loans/{id:[0-9]+}", h.getLoan).Methods(http.MethodGet).Name("GetLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/approve", h.approve).Methods(http.MethodPost).Name("ApproveLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/reject", h.reject).Methods(http.MethodPost).Name("RejectLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/activate", h.activate).Methods(http.MethodPost).Name("ActivateLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/return", h.markReturned).Methods(http.MethodPost).Name("ReturnLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/lost", h.markLost).Methods(http.MethodPost).Name("LoseLoan")
	api.HandleFunc("/loans/{id:[0-9]+}/overdue", h.markOverdue).Methods(http.MethodPost).Name("OverdueLoan")

	api.HandleFunc("/reservations", h.createReservation).Methods(http.MethodPost).Name("CreateReservation")
	api.HandleFunc("/reservations/{id:[0-9]+}/cancel", h.cancelReservation).Methods(http.MethodPost).Name("CancelReservation")

	api.HandleFunc("/patrons", h.registerPatron).Methods(http.MethodPost).Name("RegisterPatron")
	api.HandleFunc("/patrons/me/loans", h.myLoans).Methods(http.MethodGet).Name("MyLoans")
	api.HandleFunc("/patrons/{id:[0-9]+}", h.getPatron).Methods(http.MethodGet).Name("GetPatron")
	api.HandleFunc("/patrons/{id:[0-9]+}/active", h.setPatronActive).Methods(http.MethodPost).Name("SetPatronActive")
	api.HandleFunc("/patrons/{id:[0-9]+}/lift-sanction", h.liftSanction).Methods(http.MethodPost).Name("LiftSanction")

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(r.Context()))
	})
}

// authMiddleware validates the bearer token for non-public routes and puts
// the caller's actor into the request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		level := config.GetSecurityLevel(name)
		if level == config.SecurityPublic {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("Authorization")
		if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
			token = token[7:]
		}
		if token == "" {
			writeErrorBody(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authorization token is not provided")
			return
		}
		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			writeErrorBody(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			return
		}
		actor := claims.Actor()
		if !level.Allows(actor.Kind) {
			writeErrorBody(w, http.StatusForbidden, string(domain.CodeForbidden), "route not allowed for "+string(actor.Kind))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}
