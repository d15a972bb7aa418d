// Package inventory keeps every instance's stock guard aligned with the
// catalog after out-of-band stock edits.
package inventory

import (
	"context"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	kafkax "github.com/ariefcatur/go-bookstore-checkout/internal/kafka"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type Resyncer interface {
	Resync(ctx context.Context, itemID string) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	Guard Resyncer
	// Dedup is optional. Without it every delivery triggers a resync, which
	// is harmless since resync is idempotent.
	Dedup Deduper
}

// HandleStockChanged is installed as the catalog.stock.changed consumer handler.
// The consumer retries returned errors in place, so undecodable messages are
// logged and dropped rather than returned.
func (s *Service) HandleStockChanged(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.EventType(m.Headers); t != "" && t != checkout.EventStockChanged {
		return nil
	}
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("offset", m.Offset).Msg("drop malformed stock event")
		return nil
	}
	if env.EventType != checkout.EventStockChanged {
		return nil
	}

	if s.Dedup != nil {
		first, err := s.Dedup.FirstSeen(ctx, env.EventID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("event_id", env.EventID).Msg("dedup lookup failed, resyncing anyway")
		} else if !first {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[checkout.StockChangedPayload](env.Payload)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("event_id", env.EventID).Msg("drop malformed stock event")
		return nil
	}
	if err := s.Guard.Resync(ctx, p.ItemID); err != nil {
		if s.Dedup != nil {
			if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
				zerolog.Ctx(ctx).Warn().Err(ferr).Str("event_id", env.EventID).Msg("dedup forget failed")
			}
		}
		return err
	}
	zerolog.Ctx(ctx).Info().Str("item_id", p.ItemID).Int("stock", p.Stock).Msg("stock guard resynced")
	return nil
}
