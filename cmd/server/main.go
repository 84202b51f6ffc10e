package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AmoolyaSuneja/ChatMe/cmd/bootstrap"
	"github.com/AmoolyaSuneja/ChatMe/pkg/config"
	"github.com/AmoolyaSuneja/ChatMe/pkg/logger"
	"github.com/AmoolyaSuneja/ChatMe/pkg/relay"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	banner := flag.String("banner", "banner.txt", "banner file printed at startup")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}
	// 2. Load Global Configuration
	if err := config.Load(); err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg := config.GlobalConfig
	// 3. Load Log Configuration
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	// 4. Print Banner
	if err := bootstrap.PrintBannerFromFile(*banner, "ChatMe"); err != nil {
		logger.Warn("banner unavailable", zap.Error(err))
	}
	// 5. Print Configuration
	bootstrap.LogConfigInfo()

	if !logger.IsDevMode(cfg.Mode) {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := relay.NewServer(relay.Options{
		MaxMessageBytes: cfg.Relay.MaxMessageBytes,
		SendQueueSize:   cfg.Relay.SendQueueSize,
		WriteWait:       cfg.Relay.WriteWait,
		PongWait:        cfg.Relay.PongWait,
		StaticRoot:      cfg.Relay.StaticRoot,
		Environment:     cfg.Mode,
	}, logger.Named("relay"))

	httpServer := &http.Server{
		Addr:           cfg.Server.Addr(),
		Handler:        srv.Router(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Bind before serving so a taken port exits with status 1.
	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		logger.Error("relay bind failed", zap.String("addr", httpServer.Addr), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting relay server", zap.String("addr", httpServer.Addr), zap.String("mode", cfg.Mode))
		errCh <- httpServer.Serve(ln)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down relay", zap.String("signal", s.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server run failed", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	srv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
