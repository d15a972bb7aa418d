package checkout

type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountPending AccountStatus = "PENDING"
)

type ReservationStatus string

const (
	ReservationLocked    ReservationStatus = "LOCKED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

type CartStatus string

const (
	CartActive      CartStatus = "ACTIVE"
	CartCheckingOut CartStatus = "CHECKING_OUT"
	CartCompleted   CartStatus = "COMPLETED"
	CartCancelled   CartStatus = "CANCELLED"
	CartExpired     CartStatus = "EXPIRED"
	CartCleared     CartStatus = "CLEARED"
)

var validNext = map[CartStatus]map[CartStatus]bool{
	CartActive:      {CartCheckingOut: true, CartExpired: true, CartCleared: true},
	CartCheckingOut: {CartActive: true, CartCompleted: true, CartCancelled: true, CartExpired: true},
	CartCompleted:   {},
	CartCancelled:   {},
	CartExpired:     {},
	CartCleared:     {},
}

func CanTransition(from, to CartStatus) bool {
	return validNext[from][to]
}

// Open reports whether the cart can still hold stock claims.
func (s CartStatus) Open() bool {
	return s == CartActive || s == CartCheckingOut
}
