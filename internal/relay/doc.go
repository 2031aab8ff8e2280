// Package relay implements the server side of the hosted chat path: the
// authorization gate, the credit-metered streaming completion relay, and
// the HTTP handlers for /api/token, /api/credits and /api/chat.
//
// # Two-tier trust
//
// A request is authorized when it carries either a valid signed access
// token (tier "session") or a fresh human-verification proof (tier
// "proof"). The session check is purely an optimization: it saves the
// round trip to the verification service on repeat requests, not a
// stronger privilege. The one exception is the token endpoint itself,
// which mints session tokens and therefore accepts only a fresh proof:
// an existing token must never be able to renew itself.
//
// # Charging
//
// A completion is charged once a backend stream has been obtained. The
// debit is a single atomic conditional decrement at the ledger, so a burst
// of concurrent requests from one identity cannot spend past zero: the
// losers of the race are rejected before any text is streamed.
package relay
