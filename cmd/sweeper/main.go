package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-bookstore-checkout/internal/app"
	"github.com/ariefcatur/go-bookstore-checkout/internal/config"
	"github.com/ariefcatur/go-bookstore-checkout/internal/httpx"
	"github.com/ariefcatur/go-bookstore-checkout/internal/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-sweeper"
	log := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "sweeper")

	a, err := app.Build(ctx, cfg, log, m)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer a.Close()

	busCtx, stopBus := context.WithCancel(context.Background())
	if a.Bus != nil {
		a.Bus.Start(busCtx)
	}

	// Only /healthz and /metrics; no checkout routes are mounted here.
	router := httpx.NewRouter(log, m, reg)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Dur("interval", cfg.SweepInterval).Msg("sweeper started")
		return a.Sweeper.Run(log.WithContext(gctx))
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(c)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("sweeper exit")
	}
	stopBus()
	if a.Bus != nil {
		a.Bus.WaitClosed()
	}
}
