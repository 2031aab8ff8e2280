package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

// maxExchangeRetries is how many additional attempts the token exchange
// makes after a failure before giving up.
const maxExchangeRetries = 2

// SessionState tracks the access-token lifecycle.
type SessionState int

const (
	// StateNoToken means no usable access token is held.
	StateNoToken SessionState = iota
	// StateAcquiring means a proof-for-token exchange is in flight.
	StateAcquiring
	// StateValid means a token is held and usable.
	StateValid
	// StateRefreshing means a held token is being re-exchanged because the
	// proof changed.
	StateRefreshing
)

func (s SessionState) String() string {
	switch s {
	case StateNoToken:
		return "no-token"
	case StateAcquiring:
		return "acquiring"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// SessionStore owns the single access-token value for this client: it is
// read on start, written on refresh, and subscribers are notified on every
// change. When a token path is configured, the token and the proof that
// earned it are each persisted to their own file and watched, so concurrent
// client processes converge on the same session: an externally written
// token is adopted as-is, and an externally written proof triggers a
// re-exchange.
type SessionStore struct {
	baseURL    string
	tokenPath  string
	proofPath  string
	httpClient *http.Client

	mu    sync.Mutex
	state SessionState
	token string
	proof string
	subs  []func(token string)

	watcher *fsnotify.Watcher
}

// NewSessionStore creates a session store for the server at baseURL.
// tokenPath may be empty to keep the token in memory only.
func NewSessionStore(baseURL, tokenPath string) (*SessionStore, error) {
	s := &SessionStore{
		baseURL:    baseURL,
		tokenPath:  tokenPath,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		state:      StateNoToken,
	}

	if tokenPath == "" {
		return s, nil
	}

	s.proofPath = tokenPath + ".proof"

	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o755); err != nil {
		return nil, err
	}
	if raw, err := os.ReadFile(tokenPath); err == nil && len(raw) > 0 {
		s.token = string(raw)
		s.state = StateValid
	}
	if raw, err := os.ReadFile(s.proofPath); err == nil && len(raw) > 0 {
		s.proof = string(raw)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and other processes replace files
	// rather than writing them in place.
	if err := watcher.Add(filepath.Dir(tokenPath)); err != nil {
		watcher.Close()
		return nil, err
	}
	s.watcher = watcher
	go s.watchTokenFile()

	return s, nil
}

// Close stops watching the token file.
func (s *SessionStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (s *SessionStore) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current access token, or "" when none is held.
func (s *SessionStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Subscribe registers a callback invoked with the new token after every
// change, including changes picked up from the token file.
func (s *SessionStore) Subscribe(fn func(token string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Exchange trades a human-verification proof for an access token, retrying
// a bounded number of times before giving up. On failure the store falls
// back to NoToken and the error is surfaced to the caller.
func (s *SessionStore) Exchange(ctx context.Context, proof string) (string, error) {
	s.mu.Lock()
	if s.state == StateValid {
		s.state = StateRefreshing
	} else {
		s.state = StateAcquiring
	}
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxExchangeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			case <-ctx.Done():
			}
		}
		tok, err := s.exchangeOnce(ctx, proof)
		if err == nil {
			s.setProof(proof, true)
			s.adopt(tok, true)
			return tok, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	s.mu.Lock()
	s.state = StateNoToken
	s.token = ""
	s.mu.Unlock()

	return "", fmt.Errorf("token exchange failed after %d attempts: %w", maxExchangeRetries+1, lastErr)
}

func (s *SessionStore) exchangeOnce(ctx context.Context, proof string) (string, error) {
	payload, err := json.Marshal(models.TokenRequest{Token: proof})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody models.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.WorkersToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return body.WorkersToken, nil
}

// Credits fetches the remaining credits for the current token.
func (s *SessionStore) Credits(ctx context.Context) (int, error) {
	payload, err := json.Marshal(models.CreditsRequest{Token: s.Token()})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/credits", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody models.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return 0, fmt.Errorf("credits endpoint returned %d: %s", resp.StatusCode, errBody.Error)
	}

	var body models.CreditsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Credits, nil
}

// setProof records the proof that earned the current token, optionally
// persisting it beside the token file.
func (s *SessionStore) setProof(proof string, persist bool) {
	s.mu.Lock()
	changed := s.proof != proof
	s.proof = proof
	s.mu.Unlock()

	if persist && changed && s.proofPath != "" {
		_ = os.WriteFile(s.proofPath, []byte(proof), 0o600)
	}
}

// adopt installs a new token, optionally persisting it, and notifies
// subscribers.
func (s *SessionStore) adopt(token string, persist bool) {
	s.mu.Lock()
	if s.token == token && s.state == StateValid {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.state = StateValid
	subs := make([]func(string), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if persist && s.tokenPath != "" {
		// Best effort: an unwritable token file degrades to in-memory only.
		_ = os.WriteFile(s.tokenPath, []byte(token), 0o600)
	}

	for _, fn := range subs {
		fn(token)
	}
}

// watchTokenFile converges on session state written by other processes: a
// new token value is adopted directly, a new proof value is re-exchanged
// for a token of our own.
func (s *SessionStore) watchTokenFile() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Clean(ev.Name) {
			case filepath.Clean(s.tokenPath):
				raw, err := os.ReadFile(s.tokenPath)
				if err != nil || len(raw) == 0 {
					continue
				}
				s.adopt(string(raw), false)
			case filepath.Clean(s.proofPath):
				raw, err := os.ReadFile(s.proofPath)
				if err != nil || len(raw) == 0 {
					continue
				}
				proof := string(raw)
				s.mu.Lock()
				known := s.proof
				s.mu.Unlock()
				// Exchange writes the proof file itself; only a genuinely
				// new proof triggers a re-exchange.
				if proof == known {
					continue
				}
				s.setProof(proof, false)
				go s.Exchange(context.Background(), proof)
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
