package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/go-chi/chi/v5"
)

type PurchaseHandler struct {
	Svc *checkout.Service
}

type beginReq struct {
	BookID string `json:"book_id"`
}

type sessionReq struct {
	SessionID string `json:"session_id"`
}

func (h *PurchaseHandler) Register(r chi.Router) {
	r.Route("/api/purchase", func(r chi.Router) {
		r.Post("/book", h.begin)
		r.Post("/confirm", h.confirm)
		r.Post("/cancel", h.cancel)
		r.Get("/status", h.status)
		r.Get("/sessions/{id}", h.session)
	})
}

func (h *PurchaseHandler) begin(w http.ResponseWriter, r *http.Request) {
	var req beginReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	res, err := h.Svc.BeginPurchase(r.Context(), userID(r), req.BookID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PurchaseHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	receipt, err := h.Svc.ConfirmPurchase(r.Context(), userID(r), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *PurchaseHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := h.Svc.CancelPurchase(r.Context(), userID(r), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *PurchaseHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.GetStatus(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *PurchaseHandler) session(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.GetSession(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
