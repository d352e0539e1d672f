// Package rules stores per-user memory entries in a JSON file. Entries
// are rendered into the prompt as bullet points; disabled entries are
// retained but not rendered. The file is rewritten atomically on every
// mutation.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Entry is one remembered fact about a user.
type Entry struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// userMemory is the per-nick record. Entry ids are monotone per user.
type userMemory struct {
	Entries []Entry `json:"entries"`
	NextID  int     `json:"next_id"`
}

// Store holds all user memories, keyed by lowercased nick.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]*userMemory
}

// Open loads the store at path, creating it lazily. Legacy files that
// map nick → single rule string are migrated to the multi-entry form on
// first load.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{path: path, logger: logger, users: make(map[string]*userMemory)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.users); err == nil {
		return s, nil
	}

	// Legacy shape: {"nick": "one rule string"}.
	var legacy map[string]string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("rules: %s is neither current nor legacy format", path)
	}
	now := time.Now().UTC()
	for nick, rule := range legacy {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		s.users[strings.ToLower(nick)] = &userMemory{
			Entries: []Entry{{ID: 1, Content: rule, Enabled: true, CreatedAt: now}},
			NextID:  2,
		}
	}
	logger.Info("rules: migrated legacy memory file", "users", len(s.users))
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// EnabledMemories implements lolo.MemorySource.
func (s *Store) EnabledMemories(_ context.Context, nick string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.users[strings.ToLower(nick)]
	if mem == nil {
		return nil, nil
	}
	var out []string
	for _, e := range mem.Entries {
		if e.Enabled {
			out = append(out, e.Content)
		}
	}
	return out, nil
}

// List returns every entry for a nick, enabled or not.
func (s *Store) List(nick string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.users[strings.ToLower(nick)]
	if mem == nil {
		return nil
	}
	out := make([]Entry, len(mem.Entries))
	copy(out, mem.Entries)
	return out
}

// Add appends a new enabled entry and returns it.
func (s *Store) Add(nick, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, fmt.Errorf("rules: empty content")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(nick)
	mem := s.users[key]
	if mem == nil {
		mem = &userMemory{NextID: 1}
		s.users[key] = mem
	}
	e := Entry{ID: mem.NextID, Content: content, Enabled: true, CreatedAt: time.Now().UTC()}
	mem.NextID++
	mem.Entries = append(mem.Entries, e)
	return e, s.saveLocked()
}

// Update replaces an entry's content.
func (s *Store) Update(nick string, id int, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("rules: empty content")
	}
	return s.mutate(nick, id, func(e *Entry) { e.Content = content })
}

// SetEnabled toggles an entry.
func (s *Store) SetEnabled(nick string, id int, enabled bool) error {
	return s.mutate(nick, id, func(e *Entry) { e.Enabled = enabled })
}

// Delete removes one entry. Remaining ids keep their values so later
// references stay stable.
func (s *Store) Delete(nick string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.users[strings.ToLower(nick)]
	if mem == nil {
		return fmt.Errorf("rules: no entries for %s", nick)
	}
	for i, e := range mem.Entries {
		if e.ID == id {
			mem.Entries = append(mem.Entries[:i], mem.Entries[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("rules: entry %d not found for %s", id, nick)
}

// Clear removes all entries for a nick.
func (s *Store) Clear(nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, strings.ToLower(nick))
	return s.saveLocked()
}

func (s *Store) mutate(nick string, id int, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := s.users[strings.ToLower(nick)]
	if mem == nil {
		return fmt.Errorf("rules: no entries for %s", nick)
	}
	for i := range mem.Entries {
		if mem.Entries[i].ID == id {
			fn(&mem.Entries[i])
			return s.saveLocked()
		}
	}
	return fmt.Errorf("rules: entry %d not found for %s", id, nick)
}

// saveLocked writes the file atomically (temp file + rename).
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("rules: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("rules: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rules: replace: %w", err)
	}
	return nil
}
