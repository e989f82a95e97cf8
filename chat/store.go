package chat

import (
	"strings"
	"sync"

	"chatkit/core"
)

// Store owns the session collection and the active-session pointer. The
// active pointer is an id into the collection and is cleared whenever its
// target is deleted, so it can never dangle.
//
// All methods are safe for concurrent use. Read accessors return snapshot
// copies so callers cannot mutate history behind the store's back.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session // newest first
	activeID string
	logger   *core.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *core.Logger) *Store {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Store{
		logger: logger.With(map[string]interface{}{"component": "chat.store"}),
	}
}

// CreateSession inserts a new session at the front of the collection and
// makes it active. Returns a snapshot of the created session.
func (s *Store) CreateSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:    NewID(),
		Title: defaultTitle,
	}
	s.sessions = append([]*Session{sess}, s.sessions...)
	s.activeID = sess.ID

	s.logger.With(map[string]interface{}{"session_id": sess.ID}).Debug("session created")
	return snapshot(sess)
}

// RenameSession replaces the session title in place. Empty or whitespace-only
// titles and unknown ids are ignored.
func (s *Store) RenameSession(id, title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.find(id); sess != nil {
		sess.Title = title
	}
}

// SelectSession sets the active pointer. Unknown ids are ignored so the
// pointer can never reference a session outside the collection.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(id) == nil {
		s.logger.With(map[string]interface{}{"session_id": id}).Warn("select of unknown session ignored")
		return
	}
	s.activeID = id
}

// DeleteSession removes the session. Deleting the active session clears the
// active pointer.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sess := range s.sessions {
		if sess.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			if s.activeID == id {
				s.activeID = ""
			}
			return
		}
	}
}

// AppendMessage appends to the named session's history. Appending to an
// absent session is a contract violation by the caller; it is logged and
// dropped rather than surfaced to the user. Reports whether the append
// happened.
func (s *Store) AppendMessage(id string, msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.find(id)
	if sess == nil {
		s.logger.With(map[string]interface{}{
			"session_id": id,
			"sender":     string(msg.Sender),
		}).Error("append to missing session dropped")
		return false
	}
	sess.Messages = append(sess.Messages, msg)
	return true
}

// ActiveID returns the active session id, or "" when no session is active.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveSession returns a snapshot of the active session.
func (s *Store) ActiveSession() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return Session{}, false
	}
	sess := s.find(s.activeID)
	if sess == nil {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Session returns a snapshot of the named session.
func (s *Store) Session(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.find(id)
	if sess == nil {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Sessions returns snapshots of all sessions, newest first.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, snapshot(sess))
	}
	return out
}

// find returns the stored session or nil. Callers must hold s.mu.
func (s *Store) find(id string) *Session {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func snapshot(sess *Session) Session {
	out := *sess
	out.Messages = make([]Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return out
}
