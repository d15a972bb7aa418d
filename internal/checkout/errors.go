package checkout

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Adapters wrap them with %w.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoCapacity        = errors.New("no unclaimed stock")
)

type Kind string

const (
	KindNotAuthenticated         Kind = "NOT_AUTHENTICATED"
	KindAccountNotFound          Kind = "ACCOUNT_NOT_FOUND"
	KindAccountPending           Kind = "ACCOUNT_PENDING"
	KindAccountNotActive         Kind = "ACCOUNT_NOT_ACTIVE"
	KindItemNotFound             Kind = "ITEM_NOT_FOUND"
	KindSessionNotFound          Kind = "SESSION_NOT_FOUND"
	KindSessionOwnershipMismatch Kind = "SESSION_OWNERSHIP_MISMATCH"
	KindSessionExpired           Kind = "SESSION_EXPIRED"
	KindOutOfStock               Kind = "OUT_OF_STOCK"
	KindTemporarilyUnavailable   Kind = "TEMPORARILY_UNAVAILABLE"
	KindInsufficientCredit       Kind = "INSUFFICIENT_CREDIT"
	KindCartNotFound             Kind = "CART_NOT_FOUND"
	KindCartEmpty                Kind = "CART_EMPTY"
	KindInvalidRequest           Kind = "INVALID_REQUEST"
	KindPersistenceFailure       Kind = "PERSISTENCE_FAILURE"
	KindUpstreamUnavailable      Kind = "UPSTREAM_UNAVAILABLE"
)

// Error is what every orchestrator operation returns on failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is(err, ErrOutOfStock).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotAuthenticated         = &Error{Kind: KindNotAuthenticated}
	ErrAccountNotFound          = &Error{Kind: KindAccountNotFound}
	ErrAccountPending           = &Error{Kind: KindAccountPending}
	ErrAccountNotActive         = &Error{Kind: KindAccountNotActive}
	ErrItemNotFound             = &Error{Kind: KindItemNotFound}
	ErrSessionNotFound          = &Error{Kind: KindSessionNotFound}
	ErrSessionOwnershipMismatch = &Error{Kind: KindSessionOwnershipMismatch}
	ErrSessionExpired           = &Error{Kind: KindSessionExpired}
	ErrOutOfStock               = &Error{Kind: KindOutOfStock}
	ErrTemporarilyUnavailable   = &Error{Kind: KindTemporarilyUnavailable}
	ErrInsufficientCredit       = &Error{Kind: KindInsufficientCredit}
	ErrCartNotFound             = &Error{Kind: KindCartNotFound}
	ErrCartEmpty                = &Error{Kind: KindCartEmpty}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest}
	ErrPersistenceFailure       = &Error{Kind: KindPersistenceFailure}
	ErrUpstreamUnavailable      = &Error{Kind: KindUpstreamUnavailable}
)

func newErr(k Kind, reason string, cause error) *Error {
	return &Error{Kind: k, Reason: reason, Err: cause}
}

// KindOf returns "" for errors that did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsAccountInactive covers both the pending and the generic inactive case.
func IsAccountInactive(err error) bool {
	return errors.Is(err, ErrAccountPending) || errors.Is(err, ErrAccountNotActive)
}
