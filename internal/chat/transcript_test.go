package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, limit int) (*TranscriptStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.json")
	return NewTranscriptStore(path, limit, zerolog.Nop()), path
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("hello", SenderUser, InputText)

	if msg.ID == "" {
		t.Error("Expected non-empty message ID")
	}
	if msg.Content != "hello" {
		t.Errorf("Expected content 'hello', got '%s'", msg.Content)
	}
	if msg.Sender != SenderUser {
		t.Errorf("Expected sender 'user', got '%s'", msg.Sender)
	}
	if msg.Timestamp == "" {
		t.Error("Expected non-empty timestamp")
	}
}

func TestTranscriptStore_AppendAndMessages(t *testing.T) {
	store, _ := newTestStore(t, 50)

	first := NewMessage("first", SenderUser, InputText)
	second := NewMessage("second", SenderTherapist, InputText)

	if err := store.Append(first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(second); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Error("Expected messages in insertion order")
	}
}

func TestTranscriptStore_EvictsOldestAtCap(t *testing.T) {
	store, _ := newTestStore(t, 50)

	for i := 0; i < 51; i++ {
		msg := NewMessage(fmt.Sprintf("message %d", i), SenderUser, InputText)
		if err := store.Append(msg); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	msgs := store.Messages()
	if len(msgs) != 50 {
		t.Fatalf("Expected 50 messages after 51 appends, got %d", len(msgs))
	}
	if msgs[0].Content != "message 1" {
		t.Errorf("Expected oldest surviving message to be 'message 1', got '%s'", msgs[0].Content)
	}
	if msgs[49].Content != "message 50" {
		t.Errorf("Expected newest message to be 'message 50', got '%s'", msgs[49].Content)
	}
}

func TestTranscriptStore_PersistsAcrossInstances(t *testing.T) {
	store, path := newTestStore(t, 50)

	if err := store.Append(NewMessage("persisted", SenderUser, InputVoice)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reopened := NewTranscriptStore(path, 50, zerolog.Nop())
	msgs, err := reopened.Hydrate()
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 hydrated message, got %d", len(msgs))
	}
	if msgs[0].Content != "persisted" {
		t.Errorf("Expected content 'persisted', got '%s'", msgs[0].Content)
	}
	if msgs[0].InputType != InputVoice {
		t.Errorf("Expected input type 'voice', got '%s'", msgs[0].InputType)
	}
}

func TestTranscriptStore_HydrateIdempotent(t *testing.T) {
	store, path := newTestStore(t, 50)
	if err := store.Append(NewMessage("one", SenderUser, InputText)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reopened := NewTranscriptStore(path, 50, zerolog.Nop())
	if _, err := reopened.Hydrate(); err != nil {
		t.Fatalf("First hydrate failed: %v", err)
	}
	msgs, err := reopened.Hydrate()
	if err != nil {
		t.Fatalf("Second hydrate failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("Expected 1 message after double hydrate, got %d", len(msgs))
	}
}

func TestTranscriptStore_HydrateMissingFile(t *testing.T) {
	store, _ := newTestStore(t, 50)

	msgs, err := store.Hydrate()
	if err != nil {
		t.Fatalf("Hydrate of missing file failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected empty transcript, got %d messages", len(msgs))
	}
}

func TestTranscriptStore_HydrateEnforcesCap(t *testing.T) {
	store, path := newTestStore(t, 10)
	for i := 0; i < 5; i++ {
		if err := store.Append(NewMessage(fmt.Sprintf("m%d", i), SenderUser, InputText)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Reopen with a smaller limit than the persisted log.
	reopened := NewTranscriptStore(path, 3, zerolog.Nop())
	msgs, err := reopened.Hydrate()
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "m2" {
		t.Errorf("Expected oldest surviving message 'm2', got '%s'", msgs[0].Content)
	}
}

func TestTranscriptStore_Clear(t *testing.T) {
	store, path := newTestStore(t, 50)
	if err := store.Append(NewMessage("gone", SenderUser, InputText)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store after clear, got %d messages", store.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected persisted file to be removed after clear")
	}
}

func TestTranscriptStore_ClearWithoutFile(t *testing.T) {
	store, _ := newTestStore(t, 50)
	if err := store.Clear(); err != nil {
		t.Errorf("Clear with no persisted file should succeed, got %v", err)
	}
}
