package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/thomasgauvin/llm-client/internal/ledger"
	"github.com/thomasgauvin/llm-client/pkg/models"
)

// SystemPreamble constrains the tone and length of every hosted completion.
const SystemPreamble = `
            - You are an expert conversational chatbot. Your objective is to be as helpful as possible.
            - You must keep your responses relevant to the user's prompt.
            - You must respond with a maximum of 512 tokens (300 words).
            - You must respond cleary and concisely, and explain your logic if required.
            - You must not provide any personal information.
            - Do not respond with your own personal opinions, and avoid topics unrelated to the user's prompt.
          `

// ErrBackendUnavailable is returned when the model backend could not be
// invoked. The ledger is never debited in that case.
var ErrBackendUnavailable = errors.New("chat backend unavailable")

// Relay streams model completions to authorized callers and debits the
// credit ledger.
type Relay struct {
	backend ChatBackend
	store   ledger.Store
}

// NewRelay creates a Relay over the given backend and ledger.
func NewRelay(backend ChatBackend, store ledger.Store) *Relay {
	return &Relay{backend: backend, store: store}
}

// Complete relays one streamed completion for clientIdentity into w.
//
// The exhausted-balance check happens before the backend is invoked, so a
// caller at zero is never relayed and never charged. The debit itself is a
// single atomic conditional decrement performed once a backend stream has
// been obtained; losing that race to a concurrent request also rejects the
// caller before any text is written. A backend failure after streaming has
// begun terminates the response with whatever was already emitted; the
// completion stays charged.
func (rl *Relay) Complete(ctx context.Context, clientIdentity string, messages []models.Message, w io.Writer) error {
	remaining, err := rl.store.Peek(ctx, clientIdentity)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return ledger.ErrInsufficientCredits
	}

	withPreamble := make([]models.Message, 0, len(messages)+1)
	withPreamble = append(withPreamble, models.Message{Role: models.RoleSystem, Content: SystemPreamble})
	withPreamble = append(withPreamble, messages...)

	stream, err := rl.backend.Complete(ctx, withPreamble)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer stream.Close()

	if _, err := rl.store.Debit(ctx, clientIdentity, ledger.CompletionCost); err != nil {
		return err
	}

	flusher, _ := w.(http.Flusher)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			// io.EOF is the normal end; a mid-stream backend failure
			// terminates the same way, keeping what was already emitted.
			return nil
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			// Caller went away; nothing left to emit.
			return nil
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Credits reports the remaining balance for an identity, creating the
// ledger entry on first sight.
func (rl *Relay) Credits(ctx context.Context, clientIdentity string) (int, error) {
	return rl.store.Peek(ctx, clientIdentity)
}
