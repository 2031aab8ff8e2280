package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/thomasgauvin/llm-client/pkg/models"
)

func testStore(t *testing.T) *ConversationStore {
	t.Helper()
	cs, err := OpenConversationStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("OpenConversationStore() error = %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestConversationStoreCRUD(t *testing.T) {
	cs := testStore(t)

	conv := &Conversation{
		Title:    DefaultTitle,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}
	if err := cs.Put(conv); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if conv.ID == 0 {
		t.Fatal("Put() did not assign an id")
	}

	got, err := cs.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != DefaultTitle || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("Get() = %+v, want stored conversation", got)
	}

	conv.Title = "Greetings"
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleAssistant, Content: "hi"})
	firstID := conv.ID
	if err := cs.Put(conv); err != nil {
		t.Fatalf("Put() update error = %v", err)
	}
	if conv.ID != firstID {
		t.Errorf("update reassigned id: got %d, want %d", conv.ID, firstID)
	}

	got, err = cs.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if got.Title != "Greetings" || len(got.Messages) != 2 {
		t.Errorf("Get() after update = %+v", got)
	}

	if err := cs.Delete(conv.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cs.Get(conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationStoreAllNewestFirst(t *testing.T) {
	cs := testStore(t)

	titles := []string{"first", "second", "third"}
	for _, title := range titles {
		conv := &Conversation{
			Title:    title,
			Messages: []models.Message{{Role: models.RoleUser, Content: title}},
		}
		if err := cs.Put(conv); err != nil {
			t.Fatalf("Put(%q) error = %v", title, err)
		}
	}

	all, err := cs.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("All() returned %d conversations, want 3", len(all))
	}
	for i, want := range []string{"third", "second", "first"} {
		if all[i].Title != want {
			t.Errorf("All()[%d].Title = %q, want %q", i, all[i].Title, want)
		}
	}
}

func TestConversationStoreDeleteUnknown(t *testing.T) {
	cs := testStore(t)
	if err := cs.Delete(42); err != nil {
		t.Errorf("Delete(unknown) error = %v, want nil", err)
	}
}
