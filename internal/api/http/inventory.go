package http

import (
	"net/http"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/service"
)

type copyRequest struct {
	TitleID       int32                `json:"title_id"`
	Name          string               `json:"name"`
	Author        string               `json:"author"`
	InventoryCode string               `json:"inventory_code"`
	CategoryID    int32                `json:"category_id"`
	CollectionID  *int32               `json:"collection_id"`
	Condition     domain.CopyCondition `json:"condition"`
	LocationID    *int32               `json:"location_id"`
}

func (c copyRequest) registration() service.CopyRegistration {
	return service.CopyRegistration{
		TitleID:       c.TitleID,
		Name:          c.Name,
		Author:        c.Author,
		InventoryCode: c.InventoryCode,
		CategoryID:    c.CategoryID,
		CollectionID:  c.CollectionID,
		Condition:     c.Condition,
		LocationID:    c.LocationID,
	}
}

func (h *Handler) registerCopy(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req copyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Inventory.RegisterCopy(r.Context(), actor, req.registration())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type bulkCopyRequest struct {
	Copies []copyRequest `json:"copies"`
}

func (h *Handler) registerCopies(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req bulkCopyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	regs := make([]service.CopyRegistration, len(req.Copies))
	for i := range req.Copies {
		regs[i] = req.Copies[i].registration()
	}
	copies, err := h.svc.Inventory.RegisterCopies(r.Context(), actor, regs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"copies": copies})
}

func (h *Handler) updateCondition(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Condition domain.CopyCondition `json:"condition"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Inventory.UpdateCondition(r.Context(), actor, id, req.Condition)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) relocate(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		LocationID *int32 `json:"location_id"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Inventory.Relocate(r.Context(), actor, id, req.LocationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.svc.Inventory.DiscardToCommunity(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCopy(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Inventory.DeleteCopy(r.Context(), actor, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
