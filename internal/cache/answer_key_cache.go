package cache

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/openclass/quiz-session-service/internal/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizLoader fetches the full quiz definition on cache miss.
type QuizLoader interface {
	GetByIDWithDetails(ctx context.Context, id uint) (*models.Quiz, error)
}

// AnswerKey is the authoritative question -> correct-option mapping for one
// quiz, plus the question count frozen at load time. A question with no
// correct option maps to 0, which no client-supplied option ID can match.
type AnswerKey struct {
	QuizID  uint
	Correct map[uint]uint
}

// Total is the number of questions in the quiz, independent of how many
// the client answered.
func (k *AnswerKey) Total() int {
	return len(k.Correct)
}

// AnswerKeyCache keeps answer keys in a Redis hash per quiz
// (HSET quizkey:{quizID} {questionID} {optionID}) and falls back to the
// loader on miss. Concurrent misses for the same quiz collapse into one
// load via singleflight.
type AnswerKeyCache struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewAnswerKeyCache(client *redis.Client, loader QuizLoader, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *AnswerKeyCache) GetAnswerKey(ctx context.Context, quizID uint) (*AnswerKey, error) {
	key := c.cacheKey(quizID)

	cached, err := c.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		return buildKeyFromCache(quizID, cached), nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		cached, err := c.client.HGetAll(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			return buildKeyFromCache(quizID, cached), nil
		}

		quiz, err := c.loader.GetByIDWithDetails(ctx, quizID)
		if err != nil {
			return nil, err
		}

		answerKey := &AnswerKey{QuizID: quizID, Correct: make(map[uint]uint, len(quiz.Questions))}
		pipe := c.client.Pipeline()
		for i := range quiz.Questions {
			q := &quiz.Questions[i]
			correct := q.CorrectOptionID()
			answerKey.Correct[q.ID] = correct
			pipe.HSet(ctx, key, strconv.FormatUint(uint64(q.ID), 10), strconv.FormatUint(uint64(correct), 10))
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// Cache write failures are not fatal; the key was built from the store.
		_, _ = pipe.Exec(ctx)

		return answerKey, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*AnswerKey), nil
}

// Invalidate drops the cached key for a quiz, e.g. after the catalog
// service republishes it.
func (c *AnswerKeyCache) Invalidate(ctx context.Context, quizID uint) error {
	return c.client.Del(ctx, c.cacheKey(quizID)).Err()
}

func (c *AnswerKeyCache) cacheKey(quizID uint) string {
	return fmt.Sprintf("quizkey:%d", quizID)
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func buildKeyFromCache(quizID uint, cached map[string]string) *AnswerKey {
	correct := make(map[uint]uint, len(cached))
	for qStr, oStr := range cached {
		q, err := strconv.ParseUint(qStr, 10, 32)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseUint(oStr, 10, 32)
		correct[uint(q)] = uint(o)
	}
	return &AnswerKey{QuizID: quizID, Correct: correct}
}
