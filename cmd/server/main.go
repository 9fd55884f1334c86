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
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/server"
	"github.com/Tyrowin/chatroom/internal/store"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chatroom terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	config, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := store.OpenOrDegrade(ctx, config.DatabaseURL, logger)
	defer func() {
		logger.Info("Closing store...", "backend", backend.Name)
		if err := backend.Close(); err != nil {
			logger.Error("Store close failed", "error", err)
		}
	}()

	authService := auth.NewService(backend.Credentials, logger)
	srv := server.New(*config, backend, authService, logger)
	srv.Start()

	httpServer := server.CreateServer(config.Port, srv.SetupRoutes())

	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, logger); err != nil {
		logger.Error("HTTP server did not shut down cleanly", "error", err)
	}
	if err := srv.Hub().Shutdown(config.ShutdownTimeout); err != nil {
		logger.Error("Hub did not shut down cleanly", "error", err)
	}
	return code, runErr
}
