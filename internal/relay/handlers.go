package relay

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/thomasgauvin/llm-client/internal/ledger"
	"github.com/thomasgauvin/llm-client/internal/token"
	"github.com/thomasgauvin/llm-client/internal/verify"
	"github.com/thomasgauvin/llm-client/pkg/models"
)

// ServerState holds the wiring for the relay's HTTP surface.
type ServerState struct {
	Gate   *Gate
	Relay  *Relay
	Secret string
}

// NewServerState assembles the handlers from their collaborators.
func NewServerState(secret string, verifier *verify.Verifier, backend ChatBackend, store ledger.Store) *ServerState {
	return &ServerState{
		Gate:   NewGate(secret, verifier),
		Relay:  NewRelay(backend, store),
		Secret: secret,
	}
}

// RegisterHandlers registers the relay endpoints with a router.
func (s *ServerState) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/token", s.HandleToken)
	mux.HandleFunc("/api/credits", s.HandleCredits)
	mux.HandleFunc("/api/chat", s.HandleChat)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// HandleToken exchanges a fresh human-verification proof for a signed
// access token. An existing access token is deliberately not accepted
// here: this endpoint is what mints them, and tokens must not be able to
// renew themselves without re-proving humanity.
func (s *ServerState) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientIdentity := ClientIP(r)

	if !s.Gate.VerifyProof(r.Context(), req.Token, clientIdentity) {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	signed, err := token.Sign(clientIdentity, req.Token, s.Secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	log.Printf("Issued access token %s to %s", maskToken(signed), clientIdentity)
	writeJSON(w, http.StatusOK, models.TokenResponse{WorkersToken: signed})
}

// HandleCredits reports the caller's remaining credits. Either tier is
// accepted, matching the token endpoint's consumers: a client that has not
// yet exchanged its proof can still see its balance.
func (s *ServerState) HandleCredits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.CreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	authz := s.Gate.Authorize(r.Context(), req.Token, ClientIP(r))
	if !authz.Authorized {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	credits, err := s.Relay.Credits(r.Context(), authz.ClientIdentity)
	if err != nil {
		writeError(w, http.StatusForbidden, "failed to fetch credits")
		return
	}

	writeJSON(w, http.StatusOK, models.CreditsResponse{Credits: credits})
}

// HandleChat relays one streamed chat completion.
func (s *ServerState) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	authz := s.Gate.Authorize(r.Context(), req.Token, ClientIP(r))
	if !authz.Authorized {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	// Headers are committed on the first streamed chunk, so failures before
	// any text is emitted can still produce a JSON error response.
	sw := &streamWriter{w: w}
	err := s.Relay.Complete(r.Context(), authz.ClientIdentity, req.Messages, sw)
	if err == nil || sw.started {
		return
	}

	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusForbidden, "No credits remaining")
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusForbidden, "failed to fetch credits")
	default:
		writeError(w, http.StatusInternalServerError, "Chat completion failed")
	}
}

// maskToken keeps only the edges of a token so logs never carry a usable
// credential.
func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[:4] + "..." + tok[len(tok)-4:]
}

// streamWriter defers the streaming headers until the first chunk.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if !sw.started {
		sw.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		sw.w.Header().Set("Cache-Control", "no-cache")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	return sw.w.Write(p)
}

func (sw *streamWriter) Flush() {
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}
