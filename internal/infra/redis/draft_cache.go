package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

const savedAtField = "_savedAt"

// saveDraftScript replaces the draft hash unless the submitted marker
// exists. ARGV[1] is the TTL in milliseconds (0 keeps no expiry), then
// field/value pairs.
var saveDraftScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// DraftCache keeps autosaved drafts in Redis in front of a durable attempt
// repository. Drafts live in a hash attempt:{id}:draft, one field per
// question plus the save time, and expire after ttl. The durable store only
// sees answers on submit.
type DraftCache struct {
	app.AttemptRepository
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewDraftCache(inner app.AttemptRepository, client *redis.Client, ttl time.Duration) *DraftCache {
	return &DraftCache{AttemptRepository: inner, client: client, ttl: ttl, now: time.Now}
}

// LoadAttempt overlays a newer cached draft on the stored answers.
func (c *DraftCache) LoadAttempt(ctx context.Context, attemptID string) (domain.Quiz, domain.AttemptSession, error) {
	quiz, session, err := c.AttemptRepository.LoadAttempt(ctx, attemptID)
	if err != nil {
		return quiz, session, err
	}
	answers, savedAt, ok, err := c.draft(ctx, attemptID)
	if err != nil {
		return domain.Quiz{}, domain.AttemptSession{}, err
	}
	if ok && (session.LastSavedAt == nil || savedAt.After(*session.LastSavedAt)) {
		session.Answers = answers
		session.LastSavedAt = &savedAt
	}
	return quiz, session, nil
}

func (c *DraftCache) SaveDraft(ctx context.Context, attemptID string, answers domain.Answers) (time.Time, error) {
	savedAt := c.now().UTC()
	args := make([]interface{}, 0, 2*len(answers)+3)
	args = append(args, c.ttl.Milliseconds())
	for questionID, answer := range answers {
		payload, err := json.Marshal(domain.EncodeAnswer(answer))
		if err != nil {
			return time.Time{}, fmt.Errorf("marshal draft answer: %w", err)
		}
		args = append(args, questionID, string(payload))
	}
	args = append(args, savedAtField, savedAt.Format(time.RFC3339Nano))

	saved, err := saveDraftScript.Run(ctx, c.client, []string{c.key(attemptID), c.submittedKey(attemptID)}, args...).Int()
	if err != nil {
		return time.Time{}, fmt.Errorf("cache draft: %w", err)
	}
	if saved == 0 {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrAlreadySubmitted, attemptID)
	}
	return savedAt, nil
}

// SubmitAttempt submits through and drops the cached draft once the
// attempt is terminal.
func (c *DraftCache) SubmitAttempt(ctx context.Context, attemptID string, answers domain.Answers) (domain.SubmitResult, error) {
	result, err := c.AttemptRepository.SubmitAttempt(ctx, attemptID, answers)
	if err == nil || errors.Is(err, domain.ErrAlreadySubmitted) {
		_, _ = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.submittedKey(attemptID), 1, c.markerTTL())
			pipe.Del(ctx, c.key(attemptID))
			return nil
		})
	}
	return result, err
}

// RemainingSeconds forwards to the inner repository's clock.
func (c *DraftCache) RemainingSeconds(ctx context.Context, attemptID string) (int, error) {
	src, ok := c.AttemptRepository.(attempt.ClockSource)
	if !ok {
		return 0, fmt.Errorf("attempt repository has no clock")
	}
	return src.RemainingSeconds(ctx, attemptID)
}

func (c *DraftCache) draft(ctx context.Context, attemptID string) (domain.Answers, time.Time, bool, error) {
	raw, err := c.client.HGetAll(ctx, c.key(attemptID)).Result()
	if err != nil && !isMiss(err) {
		return nil, time.Time{}, false, fmt.Errorf("read draft: %w", err)
	}
	stamp, ok := raw[savedAtField]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	savedAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("draft save time: %w", err)
	}

	answers := make(domain.Answers, len(raw)-1)
	for questionID, value := range raw {
		if questionID == savedAtField {
			continue
		}
		var payload domain.AnswerPayload
		if err := json.Unmarshal([]byte(value), &payload); err != nil {
			return nil, time.Time{}, false, fmt.Errorf("draft answer %s: %w", questionID, err)
		}
		answer, err := payload.Decode()
		if err != nil {
			return nil, time.Time{}, false, fmt.Errorf("draft answer %s: %w", questionID, err)
		}
		answers[questionID] = answer
	}
	return answers, savedAt, true, nil
}

func (c *DraftCache) key(attemptID string) string {
	return "attempt:" + attemptID + ":draft"
}

func (c *DraftCache) submittedKey(attemptID string) string {
	return "attempt:" + attemptID + ":submitted"
}

// markerTTL outlives any draft save that could still be in flight.
func (c *DraftCache) markerTTL() time.Duration {
	if c.ttl > 0 {
		return c.ttl
	}
	return 24 * time.Hour
}
