// Package app assembles the HTTP server: route registration, CORS, and the
// choice of credit-ledger backend.
package app

import (
	"net/http"

	"github.com/thomasgauvin/llm-client/internal/ledger"
	"github.com/thomasgauvin/llm-client/internal/relay"
	"github.com/thomasgauvin/llm-client/internal/verify"
)

// App represents the assembled application with its router and handler
// chain.
type App struct {
	Router *http.ServeMux
	State  *relay.ServerState
	Store  ledger.Store

	// Handler is Router wrapped with the CORS middleware; serve this.
	Handler http.Handler
}

// NewApp wires the application from configuration. REDIS_ADDR selects the
// Redis-backed ledger; otherwise the ledger lives in process memory.
func NewApp(cfg *Config) (*App, error) {
	var store ledger.Store
	if cfg.RedisAddr != "" {
		redisStore, err := ledger.NewRedisStore(ledger.RedisConfig{
			Addr:      cfg.RedisAddr,
			KeyPrefix: cfg.LedgerKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		store = redisStore
	} else {
		store = ledger.NewMemoryStore()
	}

	verifier := verify.New(cfg.SiteverifySecret, cfg.SiteverifyURL)
	backend := relay.NewOpenAIBackend(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendModel)
	state := relay.NewServerState(cfg.TokenSecret, verifier, backend, store)

	router := http.NewServeMux()
	state.RegisterHandlers(router)

	return &App{
		Router:  router,
		State:   state,
		Store:   store,
		Handler: withCORS(router),
	}, nil
}

// Close releases the ledger backend if it holds external connections.
func (a *App) Close() error {
	if closer, ok := a.Store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// withCORS applies the permissive CORS policy the browser client needs and
// answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
