package http

import (
	"context"
	"net/http"
	"time"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/service"
)

type borrowerRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	BirthDate  string `json:"birth_date"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

type directLoanRequest struct {
	CopyID    int32           `json:"copy_id"`
	Borrower  borrowerRequest `json:"borrower"`
	Mode      domain.LoanMode `json:"mode"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Notes     string          `json:"notes"`
}

type reservationRequest struct {
	PatronID  int32           `json:"patron_id"`
	TitleID   int32           `json:"title_id"`
	CopyID    int32           `json:"copy_id"`
	Mode      domain.LoanMode `json:"mode"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Notes     string          `json:"notes"`
}

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate("start_date", start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate("end_date", end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (h *Handler) createDirectLoan(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req directLoanRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	from, to, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	borrower := domain.Borrower{
		Name:       req.Borrower.Name,
		NationalID: req.Borrower.NationalID,
		Phone:      req.Borrower.Phone,
		Address:    req.Borrower.Address,
	}
	if req.Borrower.BirthDate != "" {
		birth, err := parseDate("borrower.birth_date", req.Borrower.BirthDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		borrower.BirthDate = &birth
	}

	loan, err := h.svc.Loans.CreateDirectLoan(r.Context(), actor, service.DirectLoanRequest{
		CopyID:    req.CopyID,
		Borrower:  borrower,
		Mode:      req.Mode,
		StartDate: from,
		EndDate:   to,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req reservationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PatronID == 0 && actor.Kind == domain.ActorPatron {
		req.PatronID = actor.ID
	}
	from, to, err := parsePeriod(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.CreateReservation(r.Context(), actor, service.ReservationRequest{
		PatronID:  req.PatronID,
		TitleID:   req.TitleID,
		CopyID:    req.CopyID,
		Mode:      req.Mode,
		StartDate: from,
		EndDate:   to,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

type loanAction func(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error)

// transitionHandler serves the body-less loan transitions.
func (h *Handler) transitionHandler(action loanAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		loan, err := action(r.Context(), actor, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
	}
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.Approve)(w, r)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.Activate)(w, r)
}

func (h *Handler) markReturned(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.MarkReturned)(w, r)
}

func (h *Handler) markLost(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.MarkLost)(w, r)
}

func (h *Handler) markOverdue(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.MarkOverdue)(w, r)
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	h.transitionHandler(h.svc.Loans.CancelReservation)(w, r)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.transitionHandler(func(ctx context.Context, actor domain.Actor, loanID int32) (*domain.Loan, error) {
		return h.svc.Loans.Reject(ctx, actor, loanID, req.Reason)
	})(w, r)
}

func (h *Handler) getLoan(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.GetLoan(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if actor.Kind == domain.ActorPatron && (loan.PatronID == nil || *loan.PatronID != actor.ID) {
		writeError(w, r, domain.Guard(domain.CodeNotOwner, "loan belongs to another borrower"))
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	pageNo, err := queryInt32(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt32(r, "page_size")
	if err != nil {
		writeError(w, r, err)
		return
	}
	state := domain.LoanState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.LoanStatePending
	}
	loans, total, err := h.svc.Loans.ListLoansByState(r.Context(), state, pageNo, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []domain.Loan{}
	}
	writeJSON(w, http.StatusOK, page[domain.Loan]{Items: loans, Total: total})
}

func (h *Handler) myLoans(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	pageNo, err := queryInt32(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt32(r, "page_size")
	if err != nil {
		writeError(w, r, err)
		return
	}
	loans, total, err := h.svc.Loans.ListPatronLoans(r.Context(), actor.ID, pageNo, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []domain.Loan{}
	}
	writeJSON(w, http.StatusOK, page[domain.Loan]{Items: loans, Total: total})
}
