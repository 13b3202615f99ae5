package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"

	"taskboard-sync/api"
	"taskboard-sync/auth"
	"taskboard-sync/config"
	"taskboard-sync/hub"
	"taskboard-sync/protocol"
	"taskboard-sync/publisher"
	"taskboard-sync/store"
	ws "taskboard-sync/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, found, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	if !found {
		log.Warn("no .env file found, using environment variables")
	}
	gin.SetMode(gin.ReleaseMode)

	db, err := store.Open(cfg.BadgerFilepath)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing badger")
		_ = db.Close()
	}()
	if cfg.BadgerFilepath == "" {
		log.Warn("BADGER_FILEPATH not set, data is kept in memory")
	}
	repo := store.New(db, log)

	rooms := hub.New(log)
	var handlerOpts []protocol.Option
	if cfg.RequireMembership {
		handlerOpts = append(handlerOpts, protocol.WithMembershipCheck(repo))
	}
	handler := protocol.NewHandler(log, rooms, handlerOpts...)

	wsServer := ws.NewServer(log, rooms, handler, ws.Options{
		SendBuffer:     cfg.SendBufferSize,
		MaxMessageSize: int64(cfg.MaxMessageSize),
	})
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.AuthTokenDuration)

	router := api.NewServer(log, repo, publisher.New(log, rooms), wsServer, rooms, tokens, api.Options{
		RequireWSAuth:  cfg.RequireMembership,
		AllowDevTokens: cfg.AllowDevTokens,
	})
	if cfg.AllowDevTokens {
		log.Warn("ALLOW_DEV_TOKENS is set, POST /auth/token signs tokens for any user")
	}

	server := &http.Server{
		Addr:    cfg.Address(),
		Handler: router.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("server starting", "address", cfg.Address(), "requireMembership", cfg.RequireMembership)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server shutting down")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	rooms.CloseAll()
	log.Info("server stopped")
	return nil
}
