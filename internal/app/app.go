// Package app wires configuration into the stores, guard, orchestrator and
// background workers shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/ariefcatur/go-bookstore-checkout/internal/clock"
	"github.com/ariefcatur/go-bookstore-checkout/internal/config"
	"github.com/ariefcatur/go-bookstore-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-bookstore-checkout/internal/kafka"
	"github.com/ariefcatur/go-bookstore-checkout/internal/memstore"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/ariefcatur/go-bookstore-checkout/internal/postgres"
	"github.com/ariefcatur/go-bookstore-checkout/internal/redisx"
	"github.com/ariefcatur/go-bookstore-checkout/internal/stockguard"
	"github.com/ariefcatur/go-bookstore-checkout/internal/sweeper"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend is everything the orchestrator persists. memstore.Store and
// postgres.Store both satisfy it.
type Backend interface {
	checkout.Accounts
	checkout.CreditLedger
	checkout.Catalog
	checkout.StockLedger
	checkout.PurchaseLedger
	checkout.ReservationStore
	checkout.CartStore
	checkout.LockCounter
	stockguard.Source
}

type App struct {
	Service *checkout.Service
	Sweeper *sweeper.Sweeper
	Resync  *inventory.Service
	Bus     *kafkax.Bus

	closers []func()
}

func NewLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
	zerolog.DefaultContextLogger = &log
	return log
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{}
	backend, err := a.openBackend(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" && (cfg.StoreDriver != "memory" || cfg.StockGuard == "redis") {
		rdb = redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var guard checkout.StockGuard
	switch cfg.StockGuard {
	case "redis":
		if rdb == nil {
			a.Close()
			return nil, fmt.Errorf("STOCK_GUARD=redis needs REDIS_ADDR")
		}
		guard = stockguard.NewRedis(rdb, backend)
	default:
		guard = stockguard.New(backend, cfg.CASMaxRetries, m)
	}

	var receipts checkout.ReceiptCache
	if rdb != nil {
		receipts = &redisx.ReceiptCache{Redis: rdb}
	} else if ms, ok := backend.(*memstore.Store); ok {
		receipts = ms
	}

	var pub checkout.Publisher = checkout.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		a.Bus = kafkax.NewBus(cfg.KafkaBrokers, 1024, log)
		pub = a.Bus
	}
	events := checkout.Emitter{Publisher: pub, Producer: cfg.ServiceName}

	a.Service = &checkout.Service{
		Accounts:     backend,
		Credits:      backend,
		Catalog:      backend,
		Stock:        backend,
		Purchases:    backend,
		Reservations: backend,
		Carts:        backend,
		Locks:        backend,
		Guard:        guard,
		Receipts:     receipts,
		Events:       events,
		Clock:        clock.System{},
		Metrics:      m,
		Opts: checkout.Options{
			ReservationTTL:  cfg.ReservationTTL,
			CartTTL:         cfg.CartTTL,
			CartItemTTL:     cfg.CartItemTTL,
			UpstreamTimeout: cfg.UpstreamTimeout,
		},
	}
	a.Sweeper = &sweeper.Sweeper{
		Store:    backend,
		Clock:    clock.System{},
		Events:   events,
		Metrics:  m,
		Interval: cfg.SweepInterval,
	}
	a.Resync = &inventory.Service{Guard: guard}
	if rdb != nil {
		a.Resync.Dedup = &redisx.Dedup{Redis: rdb, Service: cfg.ServiceName + "-resync"}
	}
	return a, nil
}

func (a *App) openBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (Backend, error) {
	if cfg.StoreDriver == "memory" {
		st := memstore.New()
		st.SeedDemo()
		log.Warn().Msg("using in-memory store with demo data")
		return st, nil
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &postgres.Store{DB: pool}, nil
}

// ResyncConsumer subscribes this instance to stock changes. Each instance
// needs its own group so every guard sees every event.
func (a *App) ResyncConsumer(cfg config.Config, instance string, log zerolog.Logger) *kafkax.Consumer {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	group := cfg.ResyncGroup
	if group == "" {
		group = cfg.ServiceName + "-resync-" + instance
	}
	return kafkax.NewConsumer(cfg.KafkaBrokers, group, checkout.TopicStockChanged, cfg.ResyncWorkers, log)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
