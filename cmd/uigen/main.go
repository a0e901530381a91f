package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaspardpetit/uigen/internal/config"
	"github.com/gaspardpetit/uigen/internal/inflight"
	"github.com/gaspardpetit/uigen/internal/logx"
	"github.com/gaspardpetit/uigen/internal/metrics"
	"github.com/gaspardpetit/uigen/internal/relay"
	"github.com/gaspardpetit/uigen/internal/secret"
	"github.com/gaspardpetit/uigen/internal/server"
	"github.com/gaspardpetit/uigen/internal/serverstate"
	"github.com/gaspardpetit/uigen/internal/upstream"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	fs := flag.CommandLine
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "uigen version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		fs.PrintDefaults()
	}
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load config")
	}
	if *showVersion {
		fmt.Printf("uigen version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	log := logx.Log

	var store serverstate.Store
	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(cfg.RedisAddr, serverstate.DefaultRedisKey)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		store = rs
		log.Info().Msg("using redis state store")
	}
	state := serverstate.NewTracker(store)
	counter := &inflight.Counter{}
	m := metrics.New()
	m.SetBuildInfo(version, buildSHA, buildDate)

	if cfg.UpstreamAPIKey == "" {
		log.Warn().Msg("no upstream API key configured; generations will be refused")
	} else {
		log.Info().Str("key", secret.Mask(cfg.UpstreamAPIKey)).Str("upstream", cfg.UpstreamURL).Str("model", cfg.Model).Msg("upstream configured")
	}

	rl := relay.New(relay.Deps{
		Config:   cfg,
		Upstream: upstream.NewClient(cfg),
		Logger:   log,
		Metrics:  m,
		Inflight: counter,
		State:    state,
		Clock:    time.Now,
	})
	srv, err := server.New(rl)
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", server.MetricsHandler(srv.Registry))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if state.IsDraining() || cfg.DrainTimeout == 0 {
				log.Warn().Msg("termination requested")
				cancel()
				return
			}
			state.StartDrain()
			log.Info().Int64("inflight", counter.Load()).Dur("timeout", cfg.DrainTimeout).
				Msg("draining; send SIGTERM again to terminate immediately")
			go func() {
				dctx, dcancel := context.WithTimeout(ctx, cfg.DrainTimeout)
				defer dcancel()
				if counter.WaitForZero(dctx) {
					log.Info().Msg("drain complete")
				} else if ctx.Err() == nil {
					log.Warn().Int64("inflight", counter.Load()).Msg("drain timeout exceeded; terminating")
				}
				cancel()
			}()
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	state.SetReady()
	log.Info().Int("port", cfg.Port).Str("version", version).Msg("server starting")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
