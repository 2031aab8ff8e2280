package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

// chatHandler dispatches /api/chat requests to the main or title handler
// based on the request content.
func chatHandler(main, title func(w http.ResponseWriter, r *http.Request, req models.ChatRequest)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 1 && strings.HasPrefix(req.Messages[0].Content, titlePrompt) {
			title(w, r, req)
			return
		}
		main(w, r, req)
	}
}

func plainTitle(text string) func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
	return func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
		io.WriteString(w, text)
	}
}

func streamChunks(w http.ResponseWriter, chunks ...string) {
	f, _ := w.(http.Flusher)
	for _, chunk := range chunks {
		io.WriteString(w, chunk)
		if f != nil {
			f.Flush()
		}
	}
}

func newTestConsumer(t *testing.T, handler http.HandlerFunc) (*Consumer, *ConversationStore) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	session, err := NewSessionStore(srv.URL, "")
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })

	store := testStore(t)
	return NewConsumer(srv.URL, session, store), store
}

func TestSendStreamsAndPersists(t *testing.T) {
	handler := chatHandler(
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			streamChunks(w, "Hello ", "world")
		},
		plainTitle("Chat about greetings"),
	)
	c, store := newTestConsumer(t, handler)

	c.Send(context.Background(), "hi there")
	c.Wait()

	if c.State() != StateDone {
		t.Errorf("state = %v, want %v", c.State(), StateDone)
	}

	conv := c.Current()
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Role != models.RoleUser || conv.Messages[0].Content != "hi there" {
		t.Errorf("user message = %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != models.RoleAssistant || conv.Messages[1].Content != "Hello world" {
		t.Errorf("assistant message = %+v", conv.Messages[1])
	}
	if conv.Title != "Chat about greetings" {
		t.Errorf("title = %q, want generated title", conv.Title)
	}

	stored, err := store.Get(conv.ID)
	if err != nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if len(stored.Messages) != 2 || stored.Messages[1].Content != "Hello world" {
		t.Errorf("persisted conversation = %+v", stored)
	}
}

func TestCancelKeepsPartialText(t *testing.T) {
	firstChunk := make(chan struct{}, 1)
	handler := chatHandler(
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			streamChunks(w, "Hello ")
			// Hold the stream open until the client gives up.
			<-r.Context().Done()
		},
		plainTitle("Canceled chat"),
	)
	c, store := newTestConsumer(t, handler)
	c.OnChunk(func(text string) {
		select {
		case firstChunk <- struct{}{}:
		default:
		}
	})

	c.Send(context.Background(), "tell me everything")

	select {
	case <-firstChunk:
	case <-time.After(3 * time.Second):
		t.Fatal("no chunk arrived")
	}

	c.Cancel()
	c.Wait()

	if c.State() != StateAborted {
		t.Errorf("state = %v, want %v", c.State(), StateAborted)
	}

	conv := c.Current()
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[1].Content != "Hello " {
		t.Errorf("partial text = %q, want %q", conv.Messages[1].Content, "Hello ")
	}

	stored, err := store.Get(conv.ID)
	if err != nil {
		t.Fatalf("aborted conversation not persisted: %v", err)
	}
	if stored.Messages[1].Content != "Hello " {
		t.Errorf("persisted partial = %q, want %q", stored.Messages[1].Content, "Hello ")
	}
}

func TestSendSupersedesActiveStream(t *testing.T) {
	handler := chatHandler(
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			last := req.Messages[len(req.Messages)-1].Content
			if last == "one" {
				// Open the stream, then stall until superseded.
				w.WriteHeader(http.StatusOK)
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
				<-r.Context().Done()
				return
			}
			streamChunks(w, "second answer")
		},
		plainTitle("Superseded chat"),
	)
	c, _ := newTestConsumer(t, handler)

	c.Send(context.Background(), "one")

	deadline := time.Now().Add(3 * time.Second)
	for c.State() != StateStreaming {
		if time.Now().After(deadline) {
			t.Fatal("first stream never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Send(context.Background(), "two")
	c.Wait()

	if c.State() != StateDone {
		t.Errorf("state = %v, want %v", c.State(), StateDone)
	}

	conv := c.Current()
	if len(conv.Messages) != 4 {
		t.Fatalf("got %d messages, want 4 (user, stalled placeholder, user, answer)", len(conv.Messages))
	}
	if conv.Messages[1].Content != "" {
		t.Errorf("superseded placeholder = %q, want empty", conv.Messages[1].Content)
	}
	if conv.Messages[3].Content != "second answer" {
		t.Errorf("answer = %q, want %q", conv.Messages[3].Content, "second answer")
	}
}

func TestFailureMessages(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		errBody  string
		wantText string
	}{
		{"no credits", http.StatusForbidden, "No credits remaining", errTextNoCredits},
		{"session rejected", http.StatusForbidden, "verification failed", errTextSession},
		{"backend failure", http.StatusInternalServerError, "Chat completion failed", errTextGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: tt.errBody})
			}
			c, _ := newTestConsumer(t, handler)

			c.Send(context.Background(), "hi")
			c.Wait()

			if c.State() != StateFailed {
				t.Errorf("state = %v, want %v", c.State(), StateFailed)
			}
			conv := c.Current()
			if len(conv.Messages) != 2 {
				t.Fatalf("got %d messages, want 2", len(conv.Messages))
			}
			last := conv.Messages[1]
			if last.Role != models.RoleAssistant || last.Content != tt.wantText {
				t.Errorf("error message = %+v, want assistant %q", last, tt.wantText)
			}
		})
	}
}

func TestBlankInputIgnored(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called for blank input")
	}
	c, store := newTestConsumer(t, handler)

	c.Send(context.Background(), "   \n")
	c.Wait()

	if c.State() != StateIdle {
		t.Errorf("state = %v, want %v", c.State(), StateIdle)
	}
	if got := len(c.Current().Messages); got != 0 {
		t.Errorf("got %d messages, want 0", got)
	}
	all, err := store.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("blank input persisted %d conversations", len(all))
	}
}

func TestTitleSkippedWithoutStore(t *testing.T) {
	var titleCalls int32
	handler := chatHandler(
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			streamChunks(w, "ok")
		},
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			atomic.AddInt32(&titleCalls, 1)
			io.WriteString(w, "Should Not Apply")
		},
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	session, err := NewSessionStore(srv.URL, "")
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}
	t.Cleanup(func() { session.Close() })

	c := NewConsumer(srv.URL, session, nil)
	c.Send(context.Background(), "hi")
	c.Wait()

	if c.State() != StateDone {
		t.Errorf("state = %v, want %v", c.State(), StateDone)
	}
	if got := atomic.LoadInt32(&titleCalls); got != 0 {
		t.Errorf("title requested %d times for an unsaved conversation, want 0", got)
	}
	if c.Current().Title != DefaultTitle {
		t.Errorf("title = %q, want %q", c.Current().Title, DefaultTitle)
	}
}

func TestTitleDroppedWhenConversationChanges(t *testing.T) {
	titleGate := make(chan struct{})
	handler := chatHandler(
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			streamChunks(w, "ok")
		},
		func(w http.ResponseWriter, r *http.Request, req models.ChatRequest) {
			<-titleGate
			io.WriteString(w, "Late Title")
		},
	)
	c, store := newTestConsumer(t, handler)

	c.Send(context.Background(), "hi")

	deadline := time.Now().Add(3 * time.Second)
	for c.State() != StateDone {
		if time.Now().After(deadline) {
			t.Fatal("stream never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	origID := c.Current().ID

	// The user moves on before the title comes back.
	c.NewConversation()
	close(titleGate)
	c.Wait()

	stored, err := store.Get(origID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Title != DefaultTitle {
		t.Errorf("stale title applied: %q, want %q", stored.Title, DefaultTitle)
	}
	if c.Current().Title != DefaultTitle {
		t.Errorf("current title = %q, want %q", c.Current().Title, DefaultTitle)
	}
}
