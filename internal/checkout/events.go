package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	EventPurchaseCompleted  = "PurchaseCompleted"
	EventPurchaseFailed     = "PurchaseFailed"
	EventCheckoutCompleted  = "CheckoutCompleted"
	EventReservationExpired = "ReservationExpired"
	EventCartExpired        = "CartExpired"
	EventStockChanged       = "StockChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type PurchaseCompletedPayload struct {
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	ItemID         string          `json:"item_id"`
	Price          decimal.Decimal `json:"price"`
	RemainingStock int             `json:"remaining_stock"`
}

type PurchaseFailedPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id,omitempty"`
	CartID    string `json:"cart_id,omitempty"`
	Reason    Kind   `json:"reason"`
}

type CheckoutLine struct {
	ItemID   string          `json:"item_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type CheckoutCompletedPayload struct {
	CartID string          `json:"cart_id"`
	UserID string          `json:"user_id"`
	Lines  []CheckoutLine  `json:"lines"`
	Total  decimal.Decimal `json:"total"`
}

type ReservationExpiredPayload struct {
	ReservationID string    `json:"reservation_id"`
	UserID        string    `json:"user_id"`
	ItemID        string    `json:"item_id,omitempty"`
	CartID        string    `json:"cart_id,omitempty"`
	ExpiredAt     time.Time `json:"expired_at"`
}

type CartExpiredPayload struct {
	CartID string `json:"cart_id"`
	UserID string `json:"user_id"`
}

type StockChangedPayload struct {
	ItemID string `json:"item_id"`
	Stock  int    `json:"stock"`
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, []byte, string) error { return nil }

// Emitter wraps payloads in a v1 envelope before handing them to a Publisher.
type Emitter struct {
	Publisher Publisher
	Producer  string
}

// Emit never fails the caller; publish errors are logged.
func (e Emitter) Emit(ctx context.Context, topic, eventType, correlationID string, payload any) {
	if e.Publisher == nil {
		return
	}
	log := zerolog.Ctx(ctx)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Producer,
		CorrelationID: correlationID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("marshal event envelope")
		return
	}
	if err := e.Publisher.Publish(ctx, topic, PartitionKey(correlationID), value, eventType); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("publish event")
	}
}
