package http

import (
	"net/http"

	"library-circulation-backend/internal/domain"
	"library-circulation-backend/internal/repository"
)

func (h *Handler) listTitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CatalogFilter{
		Query: q.Get("q"),
		Order: repository.CatalogOrder(q.Get("order")),
	}
	var err error
	for name, dst := range map[string]*int32{
		"category_id":   &filter.CategoryID,
		"collection_id": &filter.CollectionID,
		"page":          &filter.Page,
		"page_size":     &filter.PageSize,
	} {
		if *dst, err = queryInt32(r, name); err != nil {
			writeError(w, r, err)
			return
		}
	}

	items, total, err := h.svc.Catalog.ListTitles(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.TitleSummary{}
	}
	writeJSON(w, http.StatusOK, page[domain.TitleSummary]{Items: items, Total: total})
}

type copiesResponse struct {
	TitleID           int32                 `json:"title_id"`
	Copies            []domain.CopyWithLoan `json:"copies"`
	NextAvailableCopy *int32                `json:"next_available_copy_id,omitempty"`
}

func (h *Handler) copiesOf(w http.ResponseWriter, r *http.Request) {
	titleID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	copies, err := h.svc.Catalog.CopiesOf(r.Context(), titleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := copiesResponse{TitleID: titleID, Copies: copies}
	if resp.Copies == nil {
		resp.Copies = []domain.CopyWithLoan{}
	}
	if next := domain.NextAvailableCopy(copies); next != nil {
		resp.NextAvailableCopy = &next.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) stockOf(w http.ResponseWriter, r *http.Request) {
	titleID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stock, err := h.svc.Catalog.StockOf(r.Context(), titleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

type availabilityResponse struct {
	TitleID               int32   `json:"title_id"`
	EstimatedAvailability *string `json:"estimated_availability"`
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	titleID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	est, err := h.svc.Availability.EstimatedAvailability(r.Context(), titleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{TitleID: titleID, EstimatedAvailability: formatDatePtr(est)})
}
