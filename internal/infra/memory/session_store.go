package memory

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

// attachAttempts bounds how often Attach retries when the controller it
// loaded is torn down before it could subscribe.
const attachAttempts = 3

// SessionStore is an in-memory implementation of app.SessionRepository.
// Loads run outside the registry lock, collapsed per attempt id.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*attempt.Controller
	group    singleflight.Group
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*attempt.Controller),
	}
}

func (s *SessionStore) GetOrCreate(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, error) {
	if ctrl, ok := s.Get(attemptID); ok {
		return ctrl, nil
	}
	var err error
	for i := 0; i < 2; i++ {
		var v interface{}
		var shared bool
		v, err, shared = s.group.Do(attemptID, func() (interface{}, error) {
			if ctrl, ok := s.Get(attemptID); ok {
				return ctrl, nil
			}
			ctrl, err := open()
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.sessions[attemptID] = ctrl
			s.mu.Unlock()
			return ctrl, nil
		})
		if err == nil {
			return v.(*attempt.Controller), nil
		}
		// A failed load shared from another caller ran with that caller's
		// context; try once with ours.
		if !shared {
			break
		}
	}
	return nil, err
}

// Attach returns the live controller with a subscriber already registered.
// The subscription is taken under the registry lock, so DeleteIfIdle cannot
// close the controller between lookup and subscribe.
func (s *SessionStore) Attach(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, <-chan attempt.Update, func(), error) {
	for i := 0; i < attachAttempts; i++ {
		ctrl, err := s.GetOrCreate(attemptID, open)
		if err != nil {
			return nil, nil, nil, err
		}
		s.mu.Lock()
		if s.sessions[attemptID] != ctrl {
			s.mu.Unlock()
			continue
		}
		updates, cancel := ctrl.Subscribe()
		s.mu.Unlock()
		return ctrl, updates, cancel, nil
	}
	return nil, nil, nil, domain.ErrSessionClosed
}

func (s *SessionStore) Get(attemptID string) (*attempt.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctrl, ok := s.sessions[attemptID]
	return ctrl, ok
}

// DeleteIfIdle closes and forgets the controller when nobody is subscribed.
// It reports whether the controller was removed.
func (s *SessionStore) DeleteIfIdle(attemptID string) bool {
	s.mu.Lock()
	ctrl, ok := s.sessions[attemptID]
	if !ok || ctrl.HasSubscribers() {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, attemptID)
	s.mu.Unlock()
	ctrl.Close()
	return true
}

func (s *SessionStore) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*attempt.Controller)
	s.mu.Unlock()
	for _, ctrl := range all {
		ctrl.Close()
	}
	for _, ctrl := range all {
		ctrl.Wait()
	}
}

// IDs lists the attempts with a live controller, sorted.
func (s *SessionStore) IDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len reports how many controllers are live.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
