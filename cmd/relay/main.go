package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/callmedenchick/kofirelay/internal/config"
	"github.com/callmedenchick/kofirelay/internal/eventbus"
	"github.com/callmedenchick/kofirelay/internal/forward"
	"github.com/callmedenchick/kofirelay/internal/handlers"
	"github.com/callmedenchick/kofirelay/internal/keepalive"
	"github.com/callmedenchick/kofirelay/internal/relay"
	"github.com/callmedenchick/kofirelay/internal/server"
	"github.com/callmedenchick/kofirelay/internal/stream"
)

func setupLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func main() {
	config.LoadConfig()
	cfg := config.Config
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	log.Info("Ko-fi relay is starting")

	var (
		mirror   relay.Mirror
		checkers []handlers.HealthChecker
		nats     *eventbus.NatsMirror
	)
	if cfg.NatsURI != "" {
		var err error
		nats, err = eventbus.NewNatsMirror(cfg.NatsURI, cfg.NatsSubject)
		if err != nil {
			log.Fatalf("failed to create NATS mirror: %v", err)
		}
		mirror = nats
		checkers = append(checkers, nats)
	}

	scheduler := keepalive.NewScheduler(cfg.Heartbeat(), nil)
	log.Infof("heartbeat every %v", scheduler.Interval())
	sse := stream.NewRegistry(stream.KindSSE, scheduler)
	var ws *stream.Registry
	if cfg.WsEnable {
		ws = stream.NewRegistry(stream.KindWS, scheduler)
	} else {
		log.Info("WebSocket transport disabled")
	}

	forwarder := forward.NewForwarder(cfg.LegacyForwardURL, nil)
	broadcaster := relay.NewBroadcaster(sse, ws, mirror)
	relayHandler := handlers.NewRelayHandler(sse, ws, broadcaster, forwarder, cfg.VerifyToken)
	if cfg.VerifyToken == "" {
		log.Warn("KOFI_VERIFY_TOKEN is empty, webhook token check disabled")
	}

	if cfg.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Fatal(http.ListenAndServe(fmt.Sprintf(":%v", cfg.MetricsPort), mux))
		}()
	}

	e := server.New(cfg, relayHandler, handlers.NewHealthHandler(checkers...), nil)
	e.Server.RegisterOnShutdown(func() {
		sse.CloseAll()
		if ws != nil {
			ws.CloseAll()
		}
	})

	go func() {
		log.Infof("listening on :%v", cfg.Port)
		if err := e.Start(fmt.Sprintf(":%v", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown())
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	if err := forwarder.Wait(shutdownCtx); err != nil {
		log.Warnf("legacy forwards still in flight: %v", err)
	}
	if nats != nil {
		if err := nats.Close(); err != nil {
			log.Errorf("failed to close NATS: %v", err)
		}
	}
	log.Info("relay stopped")
}
