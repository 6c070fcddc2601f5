package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/assignment-review-api/internal/models"
)

var (
	// ErrChallengeNotFound is returned when no challenge is stored for an assignment.
	ErrChallengeNotFound = errors.New("approval challenge not found")
	// ErrStaleChallenge is returned when the stored challenge was replaced by a newer one.
	ErrStaleChallenge = errors.New("approval challenge superseded")
)

const (
	challengeKeyPrefix = "approval:challenge:"
	maxWatchRetries    = 3
)

// ChallengeRepository keeps one pending approval challenge per assignment in Redis.
// Keys outlive the challenge expiry by the retention window so an expired
// challenge can still be reported as expired.
type ChallengeRepository struct {
	client    *redis.Client
	retention time.Duration
}

// NewChallengeRepository constructs the repository.
func NewChallengeRepository(client *redis.Client, retention time.Duration) *ChallengeRepository {
	if retention <= 0 {
		retention = time.Hour
	}
	return &ChallengeRepository{client: client, retention: retention}
}

func challengeKey(assignmentID string) string {
	return challengeKeyPrefix + assignmentID
}

// Save stores the challenge, replacing any previous one for the assignment.
func (r *ChallengeRepository) Save(ctx context.Context, ch *models.ApprovalChallenge) error {
	key := challengeKey(ch.AssignmentID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"reviewer_id": ch.ReviewerID,
			"code_hash":   ch.CodeHash,
			"remarks":     ch.Remarks,
			"signature":   ch.Signature,
			"nonce":       ch.Nonce,
			"attempts":    ch.Attempts,
			"issued_at":   ch.IssuedAt.UTC().Format(time.RFC3339Nano),
			"expires_at":  ch.ExpiresAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.ExpireAt(ctx, key, ch.ExpiresAt.Add(r.retention))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save approval challenge: %w", err)
	}
	return nil
}

// Get returns the stored challenge for an assignment.
func (r *ChallengeRepository) Get(ctx context.Context, assignmentID string) (*models.ApprovalChallenge, error) {
	values, err := r.client.HGetAll(ctx, challengeKey(assignmentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load approval challenge: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrChallengeNotFound
	}
	return decodeChallenge(assignmentID, values)
}

// RecordFailedAttempt increments the attempt counter of the challenge
// identified by nonce and returns the new count.
func (r *ChallengeRepository) RecordFailedAttempt(ctx context.Context, assignmentID, nonce string) (int, error) {
	var attempts int64
	err := r.withNonce(ctx, assignmentID, nonce, func(pipe redis.Pipeliner, key string) {
		pipe.HIncrBy(ctx, key, "attempts", 1)
	}, func(cmds []redis.Cmder) {
		if len(cmds) > 0 {
			if c, ok := cmds[0].(*redis.IntCmd); ok {
				attempts = c.Val()
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return int(attempts), nil
}

// Consume removes the challenge identified by nonce. Exactly one caller can
// consume a given challenge.
func (r *ChallengeRepository) Consume(ctx context.Context, assignmentID, nonce string) error {
	return r.withNonce(ctx, assignmentID, nonce, func(pipe redis.Pipeliner, key string) {
		pipe.Del(ctx, key)
	}, nil)
}

// Discard removes the challenge identified by nonce. A missing or replaced
// challenge is not an error.
func (r *ChallengeRepository) Discard(ctx context.Context, assignmentID, nonce string) error {
	err := r.Consume(ctx, assignmentID, nonce)
	if errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrStaleChallenge) {
		return nil
	}
	return err
}

func (r *ChallengeRepository) withNonce(
	ctx context.Context,
	assignmentID, nonce string,
	queue func(pipe redis.Pipeliner, key string),
	done func([]redis.Cmder),
) error {
	key := challengeKey(assignmentID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "nonce").Result()
		if errors.Is(err, redis.Nil) {
			return ErrChallengeNotFound
		}
		if err != nil {
			return fmt.Errorf("read challenge nonce: %w", err)
		}
		if current != nonce {
			return ErrStaleChallenge
		}
		cmds, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			queue(pipe, key)
			return nil
		})
		if err != nil {
			return err
		}
		if done != nil {
			done(cmds)
		}
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrStaleChallenge
}

func decodeChallenge(assignmentID string, values map[string]string) (*models.ApprovalChallenge, error) {
	issuedAt, err := time.Parse(time.RFC3339Nano, values["issued_at"])
	if err != nil {
		return nil, fmt.Errorf("decode challenge issued_at: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, values["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode challenge expires_at: %w", err)
	}
	attempts, err := strconv.Atoi(values["attempts"])
	if err != nil {
		return nil, fmt.Errorf("decode challenge attempts: %w", err)
	}
	return &models.ApprovalChallenge{
		AssignmentID: assignmentID,
		ReviewerID:   values["reviewer_id"],
		CodeHash:     values["code_hash"],
		Remarks:      values["remarks"],
		Signature:    values["signature"],
		Nonce:        values["nonce"],
		Attempts:     attempts,
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
	}, nil
}
