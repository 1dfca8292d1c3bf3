package http

import (
	"net/http"

	"library-circulation-backend/internal/domain"
)

type patronRequest struct {
	NationalID string `json:"national_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

func (h *Handler) registerPatron(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req patronRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := &domain.Patron{
		NationalID: req.NationalID,
		Email:      req.Email,
		Name:       req.Name,
		Phone:      req.Phone,
		Address:    req.Address,
	}
	if req.BirthDate != "" {
		birth, err := parseDate("birth_date", req.BirthDate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p.BirthDate = &birth
	}
	if err := h.svc.Patrons.RegisterPatron(r.Context(), actor, p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPatron(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Patrons.GetPatron(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) setPatronActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Active *bool `json:"active"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Active == nil {
		writeError(w, r, domain.NewInvalidArgument("active is required"))
		return
	}
	p, err := h.svc.Patrons.SetActive(r.Context(), actor, id, *req.Active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) liftSanction(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Sanctions.LiftSanction(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
