package relay

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/thomasgauvin/llm-client/internal/token"
	"github.com/thomasgauvin/llm-client/internal/verify"
)

// Tier records which credential authorized a request.
type Tier string

const (
	// TierSession means a valid signed access token was presented.
	TierSession Tier = "session"
	// TierProof means a fresh human-verification proof was presented.
	TierProof Tier = "proof"
)

// Authorization is the outcome of the per-request authorization decision.
type Authorization struct {
	Authorized     bool
	Tier           Tier
	ClientIdentity string
	Reason         string
}

// Gate decides whether a caller is authorized, accepting either a signed
// access token or a fresh human-verification proof.
type Gate struct {
	secret   string
	verifier *verify.Verifier
}

// NewGate creates an authorization gate from the token signing secret and
// the human verifier.
func NewGate(secret string, verifier *verify.Verifier) *Gate {
	return &Gate{secret: secret, verifier: verifier}
}

// Authorize applies the two-tier check. The cheap signature check runs
// first; the verification-service round trip is only paid when it fails.
func (g *Gate) Authorize(ctx context.Context, credential, clientIdentity string) Authorization {
	if credential == "" {
		return Authorization{ClientIdentity: clientIdentity, Reason: "missing token"}
	}

	if _, err := token.Verify(credential, g.secret); err == nil {
		return Authorization{Authorized: true, Tier: TierSession, ClientIdentity: clientIdentity}
	}

	if g.verifier.Verify(ctx, credential, clientIdentity) {
		return Authorization{Authorized: true, Tier: TierProof, ClientIdentity: clientIdentity}
	}

	return Authorization{ClientIdentity: clientIdentity, Reason: "verification failed"}
}

// VerifyProof checks only the human-verification tier. The token endpoint
// uses this so that an existing access token can never mint a new one.
func (g *Gate) VerifyProof(ctx context.Context, proof, clientIdentity string) bool {
	if proof == "" {
		return false
	}
	return g.verifier.Verify(ctx, proof, clientIdentity)
}

// ClientIP extracts the quota identity for a request: the CDN-provided
// client IP when present, then the first X-Forwarded-For hop, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
