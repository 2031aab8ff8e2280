// Package llmclient is a small chat system with a quota-metered hosted
// backend: an HTTP server that exchanges human-verification proofs for
// signed access tokens, meters per-visitor credits, and relays streaming
// chat completions; plus a client library that manages the token lifecycle,
// consumes the stream with cancellation, and persists conversations locally.
//
// # Server
//
// The server (cmd/main.go) exposes three endpoints:
//
//   - POST /api/token: exchanges a human-verification proof for a signed
//     access token ({"workersToken": "..."})
//   - POST /api/credits: reports the caller's remaining credits
//   - POST /api/chat: streams a chat completion as plain text chunks
//
// Callers authenticate with either a previously issued access token or a
// fresh human-verification proof. The token endpoint is the exception: it
// accepts only a fresh proof, so tokens cannot renew themselves.
//
// Each visitor (keyed by IP address) starts with a fixed credit allowance.
// Every completion debits the ledger with a single atomic conditional
// decrement, so concurrent requests cannot overdraw the balance.
//
// # Client
//
// The client packages (pkg/client) own the access token lifecycle with
// bounded retry, consume the completion stream with cooperative
// cancellation, and persist conversations in a local bbolt database.
// cmd/chat is a terminal front end built on them.
//
// # Environment Variables
//
//   - LISTEN_ADDR: server listen address (default ":8080")
//   - TOKEN_SECRET: symmetric secret for signing access tokens (required)
//   - SITEVERIFY_SECRET: secret for the human-verification service
//   - SITEVERIFY_URL: human-verification endpoint override
//   - REDIS_ADDR: when set, backs the credit ledger with Redis
//   - LEDGER_KEY_PREFIX: Redis key prefix for ledger data
//   - BACKEND_URL: OpenAI-compatible chat completions endpoint
//   - BACKEND_API_KEY: API key for the model backend
//   - BACKEND_MODEL: model name to request
package llmclient
