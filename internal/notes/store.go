// Package notes provides a file-persisted, concurrency-safe note store shared
// by every agent in a run. Notes are the common substrate the shadow graph is
// derived from.
package notes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/observability"
)

// Store holds notes keyed by a caller-chosen unique key and persists every
// mutation to a JSON file. All operations are safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	path  string
	notes map[string]schemas.Note
	log   *zap.Logger
}

// NewStore creates a store backed by the given file path. If the file exists
// its contents are loaded; a missing or empty file yields an empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		notes: make(map[string]schemas.Note),
		log:   observability.GetLogger().Named("notes"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the backing file into memory. Values that are plain JSON strings
// come from an older file layout and are migrated to full notes.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading notes file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing notes file %s: %w", s.path, err)
	}

	for key, blob := range raw {
		var note schemas.Note
		if err := json.Unmarshal(blob, &note); err == nil && note.Content != "" {
			s.notes[key] = note
			continue
		}
		// Legacy layout stored the content as a bare string.
		var content string
		if err := json.Unmarshal(blob, &content); err == nil {
			s.notes[key] = schemas.Note{
				Content:    content,
				Category:   schemas.CategoryInfo,
				Confidence: schemas.ConfidenceMedium,
			}
			continue
		}
		s.log.Warn("Skipping unreadable note entry.", zap.String("key", key))
	}
	return nil
}

// save writes the current map to the backing file. Callers must hold s.mu.
func (s *Store) save() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating notes directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.notes, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding notes: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing notes file %s: %w", s.path, err)
	}
	return nil
}

// Create adds a new note. It fails if the key already exists.
func (s *Store) Create(key string, note schemas.Note) error {
	if key == "" {
		return fmt.Errorf("note key must not be empty")
	}
	if !schemas.ValidCategory(note.Category) {
		return fmt.Errorf("invalid note category %q", note.Category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notes[key]; exists {
		return fmt.Errorf("note %q already exists; use update to overwrite", key)
	}
	s.notes[key] = note
	if err := s.save(); err != nil {
		return err
	}
	s.log.Debug("Note created.", zap.String("key", key), zap.String("category", string(note.Category)))
	return nil
}

// Update overwrites a note whether or not the key exists.
func (s *Store) Update(key string, note schemas.Note) error {
	if key == "" {
		return fmt.Errorf("note key must not be empty")
	}
	if !schemas.ValidCategory(note.Category) {
		return fmt.Errorf("invalid note category %q", note.Category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.notes[key] = note
	return s.save()
}

// Get returns the note stored under key.
func (s *Store) Get(key string) (schemas.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.notes[key]
	return note, ok
}

// Delete removes a note. Deleting a missing key is an error so agents notice
// stale references.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notes[key]; !exists {
		return fmt.Errorf("note %q does not exist", key)
	}
	delete(s.notes, key)
	return s.save()
}

// All returns a copy of every note keyed by its key.
func (s *Store) All() map[string]schemas.Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]schemas.Note, len(s.notes))
	for k, v := range s.notes {
		out[k] = v
	}
	return out
}

// List returns note keys filtered by category; an empty category matches all.
// Keys are sorted for stable output.
func (s *Store) List(category schemas.NoteCategory) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.notes))
	for k, v := range s.notes {
		if category != "" && v.Category != category {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Search returns the keys of notes whose key or content contains the query,
// case-insensitively.
func (s *Store) Search(query string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	keys := make([]string, 0)
	for k, v := range s.notes {
		if strings.Contains(strings.ToLower(k), q) || strings.Contains(strings.ToLower(v.Content), q) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of stored notes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}
