package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	analog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"stream-router/internal/config"
	"stream-router/internal/httpapi"
	"stream-router/internal/metrics"
	"stream-router/internal/relay"
)

func main() {
	_ = godotenv.Load()
	config.Load()
	config.SetupLogging()

	promReg := prometheus.NewRegistry()
	metrics.Register(promReg)

	tcfg := torrent.NewDefaultClientConfig()
	tcfg.DataDir = config.DataRoot()
	tcfg.Seed = false
	tcfg.DisableUTP = true
	var discardLogger analog.Logger
	discardLogger.SetHandlers(analog.DiscardHandler)
	tcfg.Logger = discardLogger
	client, err := torrent.NewClient(tcfg)
	if err != nil {
		log.Printf("[boot] torrent client: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	registry := relay.NewRegistry(relay.Options{
		Factory:      relay.NewAnacrolixFactory(client, config.TrackersMode()),
		WaitReady:    config.WaitMetadata(),
		IdleTTL:      config.SessionIdleTTL(),
		ReapInterval: config.ReapInterval(),
		Readahead:    config.StreamReadahead(),
	})
	defer registry.Close()

	handlers := httpapi.New(registry, &http.Client{Timeout: 30 * time.Second}, httpapi.Config{
		ThresholdBytes:  config.ThresholdBytes(),
		CeilingBytes:    config.RelayMaxBytes(),
		DedicatedURL:    config.DedicatedURL(),
		HlsFetchTimeout: config.HlsFetchTimeout(),
	})

	srv := &http.Server{
		Addr:              config.ListenAddr(),
		Handler:           handlers.Router(promReg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[boot] listening on %s (threshold=%d relayMax=%d trackers=%s)",
			config.ListenAddr(), config.ThresholdBytes(), config.RelayMaxBytes(), config.TrackersMode())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Printf("[boot] shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("[boot] exit: %v", err)
		os.Exit(1)
	}
}
