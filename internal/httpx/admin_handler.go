package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes the out-of-band catalog edit. Access control belongs
// to the gateway in front of this service.
type AdminHandler struct {
	Svc *checkout.Service
}

type stockReq struct {
	Stock *int `json:"stock"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Put("/api/admin/items/{id}/stock", h.updateStock)
}

func (h *AdminHandler) updateStock(w http.ResponseWriter, r *http.Request) {
	var req stockReq
	if err := decode(r, &req); err != nil || req.Stock == nil {
		badRequest(w, "stock is required")
		return
	}
	item, err := h.Svc.UpdateStock(r.Context(), chi.URLParam(r, "id"), *req.Stock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
