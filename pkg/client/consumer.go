package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

// ConsumerState tracks the lifecycle of the current submission.
type ConsumerState int

const (
	// StateIdle means no submission is in flight.
	StateIdle ConsumerState = iota
	// StateSending means the request has been issued but no chunk has
	// arrived yet.
	StateSending
	// StateStreaming means assistant text is arriving.
	StateStreaming
	// StateDone means the last submission completed normally.
	StateDone
	// StateAborted means the user cancelled; any partial text is kept.
	StateAborted
	// StateFailed means the last submission ended with a visible error
	// message appended to the transcript.
	StateFailed
)

func (s ConsumerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fixed assistant-visible texts appended on failure. Errors surface in the
// transcript rather than as Go errors so the conversation stays readable.
const (
	errTextNoCredits = "Sorry, you have no credits remaining. Please try again later."
	errTextSession   = "Sorry, your session could not be verified. Please refresh and try again."
	errTextGeneric   = "Sorry, I couldn't generate a response. Please try again."
)

const titlePrompt = "Generate a 5-7 word title for this conversation based on this first message (only provide the title in the fewest characters possible, no brackets or any additional punctuation):\n"

// Consumer drives streamed chat completions into the current conversation.
// At most one stream is active at a time: a new Send supersedes the previous
// one, and Cancel aborts it cooperatively at the next chunk boundary.
type Consumer struct {
	baseURL    string
	session    *SessionStore
	store      *ConversationStore
	httpClient *http.Client

	mu     sync.Mutex
	state  ConsumerState
	conv   *Conversation
	cancel context.CancelFunc
	gen    int

	onChange func(conv Conversation)
	onChunk  func(text string)

	wg sync.WaitGroup
}

// NewConsumer creates a consumer talking to the server at baseURL. store may
// be nil to skip persistence.
func NewConsumer(baseURL string, session *SessionStore, store *ConversationStore) *Consumer {
	return &Consumer{
		baseURL: baseURL,
		session: session,
		store:   store,
		// No client timeout: streams run as long as the model generates.
		httpClient: &http.Client{},
		state:      StateIdle,
		conv:       &Conversation{Title: DefaultTitle},
	}
}

// OnChange registers a callback invoked with a snapshot of the conversation
// after every transcript mutation.
func (c *Consumer) OnChange(fn func(conv Conversation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// OnChunk registers a callback invoked with each received text chunk.
func (c *Consumer) OnChunk(fn func(text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChunk = fn
}

// State returns the current submission state.
func (c *Consumer) State() ConsumerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a snapshot of the current conversation.
func (c *Consumer) Current() Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Consumer) snapshotLocked() Conversation {
	snap := Conversation{ID: c.conv.ID, Title: c.conv.Title}
	snap.Messages = append(snap.Messages, c.conv.Messages...)
	return snap
}

// NewConversation abandons any in-flight stream and starts a fresh empty
// conversation.
func (c *Consumer) NewConversation() {
	c.mu.Lock()
	c.supersedeLocked()
	c.conv = &Conversation{Title: DefaultTitle}
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyChange()
}

// Load abandons any in-flight stream and switches to a stored conversation.
func (c *Consumer) Load(id uint64) error {
	conv, err := c.store.Get(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.supersedeLocked()
	c.conv = conv
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyChange()
	return nil
}

// Cancel aborts the in-flight stream, if any. Text already received is kept.
func (c *Consumer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Wait blocks until the in-flight stream, if any, has reached a terminal
// state.
func (c *Consumer) Wait() { c.wg.Wait() }

// Send submits user input. Blank input is ignored. The user message is
// appended and persisted immediately; the assistant response streams in on a
// background goroutine. A Send while a stream is active supersedes it.
func (c *Consumer) Send(ctx context.Context, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	c.mu.Lock()
	c.supersedeLocked()
	c.conv.Messages = append(c.conv.Messages, models.Message{Role: models.RoleUser, Content: input})
	c.state = StateSending

	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.gen++
	gen := c.gen

	msgs := make([]models.Message, len(c.conv.Messages))
	copy(msgs, c.conv.Messages)
	c.persistLocked()
	c.mu.Unlock()

	c.notifyChange()

	c.wg.Add(1)
	go c.run(streamCtx, gen, msgs)
}

// supersedeLocked cancels the active stream and bumps the generation so the
// cancelled run's terminal handling becomes a no-op.
func (c *Consumer) supersedeLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Consumer) run(ctx context.Context, gen int, msgs []models.Message) {
	defer c.wg.Done()

	resp, errText := c.openStream(ctx, msgs)
	if errText != "" {
		if ctx.Err() != nil {
			c.finish(gen, StateAborted, "")
			return
		}
		c.finish(gen, StateFailed, errText)
		return
	}
	defer resp.Body.Close()

	if !c.beginStreaming(ctx, gen) {
		c.finish(gen, StateAborted, "")
		return
	}

	buf := make([]byte, 512)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !c.appendChunk(ctx, gen, string(buf[:n])) {
				c.finish(gen, StateAborted, "")
				return
			}
		}
		if err == io.EOF {
			c.finish(gen, StateDone, "")
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				c.finish(gen, StateAborted, "")
				return
			}
			// Partial text is kept; the error message follows it.
			c.finish(gen, StateFailed, errTextGeneric)
			return
		}
	}
}

// openStream issues the chat request. On failure it returns the
// assistant-visible error text instead of an error value.
func (c *Consumer) openStream(ctx context.Context, msgs []models.Message) (*http.Response, string) {
	payload, err := json.Marshal(models.ChatRequest{Messages: msgs, Token: c.session.Token()})
	if err != nil {
		return nil, errTextGeneric
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errTextGeneric
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errTextGeneric
	}
	if resp.StatusCode == http.StatusOK {
		return resp, ""
	}

	var errBody models.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden && errBody.Error == "No credits remaining":
		return nil, errTextNoCredits
	case resp.StatusCode == http.StatusForbidden:
		return nil, errTextSession
	default:
		return nil, errTextGeneric
	}
}

// beginStreaming appends the empty assistant placeholder the chunks extend.
func (c *Consumer) beginStreaming(ctx context.Context, gen int) bool {
	c.mu.Lock()
	if ctx.Err() != nil || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.state = StateStreaming
	c.conv.Messages = append(c.conv.Messages, models.Message{Role: models.RoleAssistant})
	c.mu.Unlock()
	c.notifyChange()
	return true
}

// appendChunk extends the assistant placeholder. Cancellation is observed
// here, at the chunk boundary: chunks arriving after cancel are discarded.
func (c *Consumer) appendChunk(ctx context.Context, gen int, chunk string) bool {
	c.mu.Lock()
	if ctx.Err() != nil || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	last := len(c.conv.Messages) - 1
	c.conv.Messages[last].Content += chunk
	fn := c.onChunk
	c.mu.Unlock()

	if fn != nil {
		fn(chunk)
	}
	return true
}

// finish applies the terminal state and persists, unless a newer submission
// has superseded this one.
func (c *Consumer) finish(gen int, state ConsumerState, errText string) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.cancel = nil
	if errText != "" {
		c.conv.Messages = append(c.conv.Messages, models.Message{Role: models.RoleAssistant, Content: errText})
	}
	c.persistLocked()
	// Titles are only generated for persisted conversations: without an
	// assigned id the apply-only-if-still-current guard cannot distinguish
	// one unsaved conversation from another.
	needsTitle := c.conv.ID != 0 && len(c.conv.Messages) > 1 && c.conv.Title == DefaultTitle
	convID := c.conv.ID
	firstUser := ""
	for _, m := range c.conv.Messages {
		if m.Role == models.RoleUser {
			firstUser = m.Content
			break
		}
	}
	c.mu.Unlock()

	c.notifyChange()

	if needsTitle && firstUser != "" {
		c.generateTitle(convID, firstUser)
	}
}

// persistLocked saves the conversation. Empty conversations are not written.
func (c *Consumer) persistLocked() {
	if c.store == nil || len(c.conv.Messages) == 0 {
		return
	}
	// Best effort: a persistence failure never interrupts the stream.
	_ = c.store.Put(c.conv)
}

func (c *Consumer) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	var snap Conversation
	if fn != nil {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// generateTitle asks the model for a short conversation title with a
// one-shot buffered request. The result is applied only if the conversation
// is still the current one; otherwise it is dropped.
func (c *Consumer) generateTitle(convID uint64, firstMessage string) {
	payload, err := json.Marshal(models.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: titlePrompt + firstMessage}},
		Token:    c.session.Token(),
	})
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	title := strings.TrimSpace(string(raw))
	if title == "" {
		return
	}

	c.mu.Lock()
	if c.conv.ID != convID || c.conv.Title != DefaultTitle {
		c.mu.Unlock()
		return
	}
	c.conv.Title = title
	c.persistLocked()
	c.mu.Unlock()

	c.notifyChange()
}
