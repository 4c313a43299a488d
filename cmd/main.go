package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"

	"market-chat/auth"
	"market-chat/membership"
	"market-chat/repositories"
	"market-chat/runtime"
	"market-chat/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the HTTP server.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Shared membership store (Redis)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	defer func() {
		_ = redisClient.Close()
	}()
	store := membership.NewStore(redisClient, log, config.MemberCacheTTL, config.PresenceTTL)

	// 4. Repositories
	chats, err := repositories.NewChatRepository(db, log)
	if err != nil {
		return fmt.Errorf("chat repository: %w", err)
	}
	defer func() {
		_ = chats.Close()
	}()
	files := repositories.NewFileRepository(db, log)
	messages, err := repositories.NewMessageRepository(db, log, files)
	if err != nil {
		return fmt.Errorf("message repository: %w", err)
	}
	defer func() {
		_ = messages.Close()
	}()

	// 5. Connection registry & fan-out. The registry lives and dies with
	// this process: a user's sockets on another process are invisible here.
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry)
	authenticator := auth.NewAuthenticator(config.AuthSecret)

	chatHandler := ws.NewChatHandler(log, config.AllowedOrigins, authenticator,
		registry, broadcaster, chats, messages, files, store)
	presenceHandler := ws.NewPresenceHandler(log, config.AllowedOrigins, authenticator,
		registry, broadcaster, store)
	handler := ws.NewRouter(log, config.AllowedOrigins, chatHandler, presenceHandler,
		authenticator, chats, messages)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. HTTP Server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:    address,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("Program stopped cleanly")

	return nil
}
