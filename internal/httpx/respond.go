package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/rs/zerolog"
)

type errorResp struct {
	Error string        `json:"error"`
	Kind  checkout.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusByKind = map[checkout.Kind]int{
	checkout.KindNotAuthenticated:         http.StatusUnauthorized,
	checkout.KindAccountNotFound:          http.StatusNotFound,
	checkout.KindAccountPending:           http.StatusForbidden,
	checkout.KindAccountNotActive:         http.StatusForbidden,
	checkout.KindItemNotFound:             http.StatusNotFound,
	checkout.KindSessionNotFound:          http.StatusNotFound,
	checkout.KindSessionOwnershipMismatch: http.StatusForbidden,
	checkout.KindSessionExpired:           http.StatusGone,
	checkout.KindOutOfStock:               http.StatusConflict,
	checkout.KindTemporarilyUnavailable:   http.StatusConflict,
	checkout.KindInsufficientCredit:       http.StatusPaymentRequired,
	checkout.KindCartNotFound:             http.StatusNotFound,
	checkout.KindCartEmpty:                http.StatusBadRequest,
	checkout.KindInvalidRequest:           http.StatusBadRequest,
	checkout.KindPersistenceFailure:       http.StatusInternalServerError,
	checkout.KindUpstreamUnavailable:      http.StatusServiceUnavailable,
}

// writeError maps a checkout error to its status. Anything unclassified is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *checkout.Error
	if !errors.As(err, &e) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unclassified error")
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
		return
	}
	code, ok := statusByKind[e.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorResp{Error: e.Reason, Kind: e.Kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Kind: checkout.KindInvalidRequest})
}

func userID(r *http.Request) string { return r.Header.Get(userHeader) }

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
