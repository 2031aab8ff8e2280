// Package verify validates one-time human-verification proofs against an
// external siteverify endpoint.
package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSiteverifyURL is the endpoint for validating human-verification
// proofs.
const DefaultSiteverifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Verifier checks human-verification proofs. The external service
// invalidates each proof on first use, so a replayed proof fails there.
type Verifier struct {
	secret     string
	endpoint   string
	httpClient *http.Client
}

// New creates a Verifier for the given shared secret. An empty endpoint
// selects DefaultSiteverifyURL.
func New(secret, endpoint string) *Verifier {
	if endpoint == "" {
		endpoint = DefaultSiteverifyURL
	}
	return &Verifier{
		secret:     secret,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// siteverifyResponse is the subset of the verification service's reply we
// care about.
type siteverifyResponse struct {
	Success bool `json:"success"`
}

// Verify checks a proof against the verification service for the given
// client IP. Network and decoding failures count as verification failure;
// Verify never returns an error to the caller.
func (v *Verifier) Verify(ctx context.Context, proof, remoteIP string) bool {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", proof)
	form.Set("remoteip", remoteIP)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	return result.Success
}
