package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultLimit caps the transcript at the same bound the conversation UI
// can sensibly display.
const DefaultLimit = 50

// TranscriptStore is a bounded, insertion-ordered log of chat turns that
// survives process restarts. Eviction is FIFO: once the cap is reached the
// oldest entries are dropped, never the newest.
type TranscriptStore struct {
	mu       sync.Mutex
	path     string
	limit    int
	messages []Message
	hydrated bool
	logger   zerolog.Logger
}

// NewTranscriptStore creates a store persisting to path, bounded at limit
// entries (DefaultLimit when limit <= 0).
func NewTranscriptStore(path string, limit int, logger zerolog.Logger) *TranscriptStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &TranscriptStore{
		path:   path,
		limit:  limit,
		logger: logger,
	}
}

// Append adds a message to the end of the transcript, evicts from the front
// down to the cap, and persists the result.
func (s *TranscriptStore) Append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	if overflow := len(s.messages) - s.limit; overflow > 0 {
		s.messages = append([]Message(nil), s.messages[overflow:]...)
	}

	if err := s.persistLocked(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist transcript")
		return err
	}
	return nil
}

// Hydrate loads previously persisted messages. It is idempotent: a second
// call with an unchanged underlying log returns the same entries without
// re-reading or re-persisting anything. A missing file yields an empty
// transcript.
func (s *TranscriptStore) Hydrate() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return s.snapshotLocked(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.hydrated = true
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}

	// Enforce the cap on logs written under an older, larger limit.
	if overflow := len(messages) - s.limit; overflow > 0 {
		messages = messages[overflow:]
	}

	s.messages = messages
	s.hydrated = true
	return s.snapshotLocked(), nil
}

// Clear empties the transcript and removes its persisted state.
func (s *TranscriptStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove transcript: %w", err)
	}
	return nil
}

// Messages returns a snapshot of the transcript in insertion order.
func (s *TranscriptStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of messages currently held.
func (s *TranscriptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *TranscriptStore) snapshotLocked() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// persistLocked writes the log via a temp file and rename so a crash
// mid-write cannot corrupt the previous state.
func (s *TranscriptStore) persistLocked() error {
	data, err := json.Marshal(s.messages)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".transcript-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp transcript: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace transcript: %w", err)
	}
	return nil
}
