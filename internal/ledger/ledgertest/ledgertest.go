// Package ledgertest provides a conformance suite that every ledger.Store
// implementation must pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/thomasgauvin/llm-client/internal/ledger"
)

// RunStoreSuite runs the shared conformance tests against the Store
// produced by factory. Each subtest uses fresh identities, so a shared
// backing service (e.g. a real Redis) stays clean across runs.
func RunStoreSuite(t *testing.T, factory func(t *testing.T) ledger.Store) {
	t.Run("initial allowance", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		remaining, err := store.Peek(context.Background(), identity)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if remaining != ledger.InitialCredits {
			t.Errorf("Peek() = %d, want %d", remaining, ledger.InitialCredits)
		}

		// A second peek must not re-grant the allowance.
		remaining, err = store.Peek(context.Background(), identity)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if remaining != ledger.InitialCredits {
			t.Errorf("second Peek() = %d, want %d", remaining, ledger.InitialCredits)
		}
	})

	t.Run("debit sequence", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		for n := 1; n <= 10; n++ {
			remaining, err := store.Debit(context.Background(), identity, ledger.CompletionCost)
			if err != nil {
				t.Fatalf("Debit() #%d error = %v", n, err)
			}
			want := ledger.InitialCredits - n*ledger.CompletionCost
			if remaining != want {
				t.Errorf("Debit() #%d = %d, want %d", n, remaining, want)
			}
		}

		remaining, err := store.Peek(context.Background(), identity)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if want := ledger.InitialCredits - 10*ledger.CompletionCost; remaining != want {
			t.Errorf("Peek() after 10 debits = %d, want %d", remaining, want)
		}
	})

	t.Run("debit at zero is rejected", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		for n := 0; n < ledger.InitialCredits/ledger.CompletionCost; n++ {
			if _, err := store.Debit(context.Background(), identity, ledger.CompletionCost); err != nil {
				t.Fatalf("Debit() #%d error = %v", n+1, err)
			}
		}

		_, err := store.Debit(context.Background(), identity, ledger.CompletionCost)
		if !errors.Is(err, ledger.ErrInsufficientCredits) {
			t.Errorf("Debit() at zero error = %v, want ErrInsufficientCredits", err)
		}

		remaining, err := store.Peek(context.Background(), identity)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if remaining != 0 {
			t.Errorf("Peek() after exhaustion = %d, want 0", remaining)
		}
	})

	t.Run("debit clamps at zero", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		// Odd cost leaves 1 remaining before the final debit.
		if _, err := store.Debit(context.Background(), identity, ledger.InitialCredits-1); err != nil {
			t.Fatalf("Debit() error = %v", err)
		}
		remaining, err := store.Debit(context.Background(), identity, ledger.CompletionCost)
		if err != nil {
			t.Fatalf("Debit() error = %v", err)
		}
		if remaining != 0 {
			t.Errorf("Debit() past zero = %d, want clamp to 0", remaining)
		}
	})

	t.Run("concurrent first access", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		const workers = 16
		results := make([]int, workers)
		errs := make([]error, workers)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = store.Peek(context.Background(), identity)
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			if errs[i] != nil {
				t.Fatalf("Peek() [%d] error = %v", i, errs[i])
			}
			if results[i] != ledger.InitialCredits {
				t.Errorf("Peek() [%d] = %d, want %d", i, results[i], ledger.InitialCredits)
			}
		}
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		store := factory(t)
		identity := newIdentity()

		// Drain to exactly one completion's worth of credits.
		for n := 0; n < ledger.InitialCredits/ledger.CompletionCost-1; n++ {
			if _, err := store.Debit(context.Background(), identity, ledger.CompletionCost); err != nil {
				t.Fatalf("Debit() #%d error = %v", n+1, err)
			}
		}

		const workers = 8
		var succeeded atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Debit(context.Background(), identity, ledger.CompletionCost)
				if err == nil {
					succeeded.Add(1)
				} else if !errors.Is(err, ledger.ErrInsufficientCredits) {
					t.Errorf("Debit() error = %v", err)
				}
			}()
		}
		wg.Wait()

		if got := succeeded.Load(); got != 1 {
			t.Errorf("concurrent debits at the boundary: %d succeeded, want 1", got)
		}

		remaining, err := store.Peek(context.Background(), identity)
		if err != nil {
			t.Fatalf("Peek() error = %v", err)
		}
		if remaining != 0 {
			t.Errorf("Peek() = %d, want 0", remaining)
		}
	})
}

func newIdentity() string {
	return fmt.Sprintf("198.51.100.%s", uuid.NewString())
}
