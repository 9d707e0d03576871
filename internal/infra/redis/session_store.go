package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

const (
	ownershipTimeout  = 5 * time.Second
	defaultSessionTTL = 2 * time.Hour
)

// claimScript takes the marker when it is free and refreshes its TTL when
// this owner already holds it. It returns 0 when another owner holds it.
var claimScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder == false then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
if holder == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Controllers stay in a local registry; an attempt:session:{id} marker
// names the instance running the attempt, so only one instance drives a
// given countdown and autosave stream. Markers are refreshed while the
// controller lives and expire if the instance dies.
type SessionStore struct {
	local  *memory.SessionStore
	client *redis.Client
	ttl    time.Duration
	owner  string

	keepalive sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

func NewSessionStore(client *redis.Client, ttl time.Duration, owner string) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{
		local:  memory.NewSessionStore(),
		client: client,
		ttl:    ttl,
		owner:  owner,
		stop:   make(chan struct{}),
	}
}

func (s *SessionStore) GetOrCreate(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, error) {
	return s.local.GetOrCreate(attemptID, s.claiming(attemptID, open))
}

func (s *SessionStore) Attach(attemptID string, open func() (*attempt.Controller, error)) (*attempt.Controller, <-chan attempt.Update, func(), error) {
	return s.local.Attach(attemptID, s.claiming(attemptID, open))
}

func (s *SessionStore) Get(attemptID string) (*attempt.Controller, bool) {
	return s.local.Get(attemptID)
}

func (s *SessionStore) DeleteIfIdle(attemptID string) bool {
	if !s.local.DeleteIfIdle(attemptID) {
		return false
	}
	s.release(attemptID)
	return true
}

func (s *SessionStore) CloseAll() {
	s.stopOnce.Do(func() { close(s.stop) })
	ids := s.local.IDs()
	s.local.CloseAll()
	for _, id := range ids {
		s.release(id)
	}
}

// Refresh extends the markers of every live controller and re-takes any
// that lapsed.
func (s *SessionStore) Refresh(ctx context.Context) error {
	for _, id := range s.local.IDs() {
		if _, err := s.claim(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Holder returns the instance holding a live attempt, if any.
func (s *SessionStore) Holder(ctx context.Context, attemptID string) (string, bool, error) {
	owner, err := s.client.Get(ctx, s.key(attemptID)).Result()
	if isMiss(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (s *SessionStore) claiming(attemptID string, open func() (*attempt.Controller, error)) func() (*attempt.Controller, error) {
	return func() (*attempt.Controller, error) {
		ctx, cancel := context.WithTimeout(context.Background(), ownershipTimeout)
		defer cancel()
		ok, err := s.claim(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("claim attempt %s: %w", attemptID, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttemptBusy, attemptID)
		}
		ctrl, err := open()
		if err != nil {
			s.release(attemptID)
			return nil, err
		}
		s.keepalive.Do(func() { go s.refreshLoop() })
		return ctrl, nil
	}
}

func (s *SessionStore) claim(ctx context.Context, attemptID string) (bool, error) {
	n, err := claimScript.Run(ctx, s.client, []string{s.key(attemptID)}, s.owner, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SessionStore) release(attemptID string) {
	ctx, cancel := context.WithTimeout(context.Background(), ownershipTimeout)
	defer cancel()
	_ = releaseScript.Run(ctx, s.client, []string{s.key(attemptID)}, s.owner).Err()
}

func (s *SessionStore) refreshLoop() {
	interval := s.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ownershipTimeout)
			_ = s.Refresh(ctx)
			cancel()
		}
	}
}

func (s *SessionStore) key(attemptID string) string {
	return "attempt:session:" + attemptID
}
