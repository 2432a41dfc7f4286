// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voice-bridge/config"
	internal_bridge "github.com/rapidaai/voice-bridge/internal/bridge"
	internal_gemini "github.com/rapidaai/voice-bridge/internal/gemini"
	internal_session "github.com/rapidaai/voice-bridge/internal/session"
	internal_store "github.com/rapidaai/voice-bridge/internal/store"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/connectors"
)

const shutdownGrace = 10 * time.Second

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to read configuration: %v", err)
	}
	appCfg, err := config.GetBridgeConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(appCfg.Name),
		commons.Path(appCfg.LogPath),
		commons.Level(appCfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appCfg, logger); err != nil {
		logger.Fatalf("bridge exited: %v", err)
	}
}

func run(ctx context.Context, appCfg *config.BridgeConfig, logger commons.Logger) error {
	database, err := openDatabase(appCfg)
	if err != nil {
		return err
	}

	store := internal_store.NewCallStore(database, logger, appCfg.RecordingPath)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	registry := internal_session.NewRegistry(logger)
	listener, err := internal_bridge.NewListener(
		appCfg, logger, registry, store, store,
		func() internal_type.ModelConnector {
			return internal_gemini.NewConnector(appCfg.GeminiConfig, logger)
		},
	)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	listener.Routes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", appCfg.Host, appCfg.Port),
		Handler: engine,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("bridge listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down bridge")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		registry.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openDatabase(appCfg *config.BridgeConfig) (connectors.DatabaseConnector, error) {
	switch appCfg.DatabaseConfig.Driver {
	case "postgres":
		return connectors.NewPostgresConnector(appCfg.DatabaseConfig.Dsn)
	default:
		return connectors.NewSqliteConnector(appCfg.DatabaseConfig.Dsn)
	}
}
