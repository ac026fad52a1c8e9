// Package session keeps per-session chat history in memory.
package session

import (
	"sync"
	"time"

	"github.com/Zerofisher/anxun/pkg/model"
)

// DefaultMaxHistory is the number of user/assistant pairs kept per session.
const DefaultMaxHistory = 10

// Store maps session ids to bounded turn lists. History lives for the
// lifetime of the process only.
//
// The mutex only keeps the map memory-safe. Two requests against the same
// session may still interleave their turns.
type Store struct {
	mu         sync.Mutex
	sessions   map[string][]model.ChatTurn
	maxHistory int
	system     string
	now        func() time.Time
}

// New creates a store. maxHistory <= 0 selects DefaultMaxHistory.
// systemPrompt is prepended by Context when requested.
func New(maxHistory int, systemPrompt string) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		sessions:   make(map[string][]model.ChatTurn),
		maxHistory: maxHistory,
		system:     systemPrompt,
		now:        time.Now,
	}
}

// Limit returns the number of turns retained per session.
func (s *Store) Limit() int {
	return 2 * s.maxHistory
}

// Append adds a turn, creating the session if needed, then drops the oldest
// turns beyond Limit.
func (s *Store) Append(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[id], model.ChatTurn{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	if limit := s.Limit(); len(turns) > limit {
		kept := make([]model.ChatTurn, limit)
		copy(kept, turns[len(turns)-limit:])
		turns = kept
	}
	s.sessions[id] = turns
}

// Context returns the turns to send to the model, optionally led by the
// system prompt. The returned slice is a copy.
func (s *Store) Context(id string, includeSystem bool) []model.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.sessions[id]
	out := make([]model.ChatTurn, 0, len(turns)+1)
	if includeSystem && s.system != "" {
		out = append(out, model.ChatTurn{Role: model.RoleSystem, Content: s.system, Timestamp: s.now()})
	}
	return append(out, turns...)
}

// History returns a copy of the stored turns without the system prompt.
func (s *Store) History(id string) []model.ChatTurn {
	return s.Context(id, false)
}

// Clear empties a session. The session stays known.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = []model.ChatTurn{}
}

// Count returns the number of known sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
