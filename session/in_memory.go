package session

import (
	"sort"
	"sync"
	"time"
)

// Store keeps one Conversation per user in process memory. It is safe for
// concurrent access; every returned conversation is a clone.
type Store struct {
	mu              sync.RWMutex
	conversations   map[string]*Conversation
	maxHistoryTurns int
	now             func() time.Time
}

// NewStore creates a store keeping maxHistoryTurns*2 turns per user.
func NewStore(maxHistoryTurns int) *Store {
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = 10
	}
	return &Store{
		conversations:   make(map[string]*Conversation),
		maxHistoryTurns: maxHistoryTurns,
		now:             time.Now,
	}
}

// MaxHistoryTurns returns the configured window in exchanges.
func (s *Store) MaxHistoryTurns() int { return s.maxHistoryTurns }

// Get returns the user's conversation, empty when none exists yet.
func (s *Store) Get(userID string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[userID]; ok {
		return c.Clone()
	}
	return &Conversation{UserID: userID}
}

// Has reports whether the store holds a conversation for the user.
func (s *Store) Has(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[userID]
	return ok
}

// HasData reports whether the user has rows from a previous answer.
func (s *Store) HasData(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[userID].HasData()
}

// Update records a data answer, keeping at most MaxContextRows rows.
func (s *Store) Update(userID string, snap Snapshot) {
	rows := snap.Rows
	if len(rows) > MaxContextRows {
		rows = rows[:MaxContextRows]
	}
	columns := snap.Columns
	if len(columns) == 0 && len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(userID)
	c.LastQuery = snap.Query
	c.LastSQL = snap.SQL
	c.LastRows = append([]map[string]any(nil), rows...)
	c.LastColumns = append([]string(nil), columns...)
	c.LastTables = append([]string(nil), snap.Tables...)
	c.LastOutputKind = snap.OutputKind
	c.LastTitle = snap.Title
	c.LastTemporality = snap.Temporality
	c.LastDataPoints = append([]map[string]any(nil), snap.DataPoints...)
}

// SetOutputKind changes how the last answer is rendered.
func (s *Store) SetOutputKind(userID, kind string, dataPoints []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(userID)
	c.LastOutputKind = kind
	c.LastDataPoints = append([]map[string]any(nil), dataPoints...)
}

// AddTurn appends a turn and trims the history to the sliding window. It
// returns the stored turn.
func (s *Store) AddTurn(userID string, t Turn) Turn {
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now().UTC()
	}
	t.Tables = append([]string(nil), t.Tables...)

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(userID)
	c.Turns = append(c.Turns, t)
	if limit := s.maxHistoryTurns * 2; len(c.Turns) > limit {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-limit:]...)
	}
	return t
}

// Restore seeds a user's history, e.g. from a Persister, when the store has
// none for that user yet.
func (s *Store) Restore(userID string, turns []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getLocked(userID)
	if len(c.Turns) > 0 {
		return
	}
	if limit := s.maxHistoryTurns * 2; len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	c.Turns = append([]Turn(nil), turns...)
}

// Clear forgets a user's conversation.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, userID)
}

// Len returns the number of users with a conversation.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// getLocked returns the stored conversation, creating it. Caller must hold
// the write lock.
func (s *Store) getLocked(userID string) *Conversation {
	c, ok := s.conversations[userID]
	if !ok {
		c = &Conversation{UserID: userID}
		s.conversations[userID] = c
	}
	return c
}
