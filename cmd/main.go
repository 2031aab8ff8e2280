// LLM relay server.
//
// The server fronts a hosted chat-completion backend with a credit-metered,
// human-verified authorization layer:
//
//   - POST /api/token   exchanges a human-verification proof for a signed
//     access token
//   - POST /api/credits reports the caller's remaining credits
//   - POST /api/chat    relays a streamed chat completion, debiting credits
//
// Environment Variables:
//   - LISTEN_ADDR: address to serve on (default :8080)
//   - TOKEN_SECRET: HMAC secret for signing access tokens (required)
//   - SITEVERIFY_SECRET: shared secret for the human-verification service
//   - SITEVERIFY_URL: siteverify endpoint override (useful for testing)
//   - REDIS_ADDR: Redis address for the credit ledger; unset keeps the
//     ledger in process memory
//   - LEDGER_KEY_PREFIX: Redis key prefix for ledger entries
//   - BACKEND_URL: chat-completion backend endpoint
//   - BACKEND_API_KEY: bearer token for the backend, if it needs one
//   - BACKEND_MODEL: model name sent to the backend
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thomasgauvin/llm-client/internal/app"
)

// loadEnvFile loads environment variables from a .env file if present.
// It attempts to load from the current directory and parent directories
// up to the root directory.
func loadEnvFile() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file in current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		log.Printf("Warning: Could not determine current directory: %v", err)
		return
	}

	for dir := workDir; dir != "/"; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				log.Printf("Loaded environment variables from %s", envPath)
				return
			}
		}
	}

	log.Println("No .env file found. Using existing environment variables.")
}

func main() {
	loadEnvFile()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	if cfg.RedisAddr != "" {
		log.Printf("Credit ledger: redis at %s", cfg.RedisAddr)
	} else {
		log.Println("Credit ledger: in-memory (set REDIS_ADDR for persistence)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: a.Handler,
	}

	go func() {
		log.Printf("Starting server on %s...", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	} else {
		log.Println("Server gracefully stopped")
	}
}
