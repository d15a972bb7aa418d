package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	Svc *checkout.Service
}

type addReq struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

type quantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/add", h.add)
		r.Delete("/remove/{itemId}", h.remove)
		r.Put("/items/{id}", h.updateQuantity)
		r.Delete("/items/{id}", h.removeLine)
		r.Delete("/clear", h.clear)
		r.Post("/checkout", h.startCheckout)
		r.Post("/checkout/confirm", h.confirmCheckout)
		r.Post("/checkout/cancel", h.cancelCheckout)
	})
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.GetCart(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req addReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	line, err := h.Svc.AddToCart(r.Context(), userID(r), req.BookID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.RemoveFromCart(r.Context(), userID(r), chi.URLParam(r, "itemId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	line, err := h.Svc.UpdateItemQuantity(r.Context(), userID(r), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *CartHandler) removeLine(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.RemoveCartItem(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.ClearCart(r.Context(), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) startCheckout(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Svc.StartCheckout(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *CartHandler) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Svc.ConfirmCheckout(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *CartHandler) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.CancelCheckout(r.Context(), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
