package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/app"
	"github.com/ariefcatur/go-bookstore-checkout/internal/config"
	"github.com/ariefcatur/go-bookstore-checkout/internal/httpx"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "api")

	a, err := app.Build(ctx, cfg, log, m)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer a.Close()

	// The bus outlives the HTTP server so in-flight confirms can still publish.
	busCtx, stopBus := context.WithCancel(context.Background())
	if a.Bus != nil {
		a.Bus.Start(busCtx)
	}

	router := httpx.NewRouter(log, m, reg)
	(&httpx.PurchaseHandler{Svc: a.Service}).Register(router)
	(&httpx.CartHandler{Svc: a.Service}).Register(router)
	(&httpx.AdminHandler{Svc: a.Service}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.SweeperEnabled {
		g.Go(func() error {
			return a.Sweeper.Run(log.WithContext(gctx))
		})
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.NewString()[:8]
	}
	if cons := a.ResyncConsumer(cfg, hostname, log); cons != nil {
		g.Go(func() error {
			return cons.Start(gctx, a.Resync.HandleStockChanged)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}
	stopBus()
	if a.Bus != nil {
		a.Bus.WaitClosed()
	}
	log.Info().Msg("bye")
}
