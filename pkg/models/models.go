// Package models contains the wire types shared by the server and client.
package models

// Message roles. The server prepends a system message; clients exchange
// user and assistant messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenRequest is the body of POST /api/token. Token carries a one-time
// human-verification proof; a previously issued access token is not
// accepted there.
type TokenRequest struct {
	Token string `json:"token"`
}

// TokenResponse is the success body of POST /api/token.
type TokenResponse struct {
	WorkersToken string `json:"workersToken"`
}

// CreditsRequest is the body of POST /api/credits. Token may be either an
// access token or a human-verification proof.
type CreditsRequest struct {
	Token string `json:"token"`
}

// CreditsResponse is the success body of POST /api/credits.
type CreditsResponse struct {
	Credits int `json:"credits"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Token    string    `json:"token"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
