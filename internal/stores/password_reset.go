package stores

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// Hash fields of a stored reset record.
const (
	resetFieldAccount  = "account"
	resetFieldSecret   = "secret"
	resetFieldExpires  = "expires"
	resetFieldAttempts = "attempts"
)

// PasswordResetRecord is a pending reset. Only the SHA-256 of the emailed
// secret is kept.
type PasswordResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

// PasswordResetStore keeps reset records as Redis hashes so a mismatch can
// bump the attempt counter in place without touching the key's TTL.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PasswordResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

func (s *PasswordResetStore) Save(ctx context.Context, resetID string, record *PasswordResetRecord, ttl time.Duration) error {
	key := s.key(resetID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			resetFieldAccount, record.AccountID,
			resetFieldSecret, hex.EncodeToString(record.SecretHash[:]),
			resetFieldExpires, record.ExpiresAt,
			resetFieldAttempts, int(record.Attempts),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Consume deletes the record when providedHash matches. A mismatch counts
// an attempt; the record is dropped after maxAttempts mismatches.
func (s *PasswordResetStore) Consume(ctx context.Context, resetID string, providedHash [32]byte, maxAttempts int) (*PasswordResetRecord, error) {
	key := s.key(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return ErrResetNotFound
			}
			record, err := parseResetRecord(fields)
			if err != nil {
				_ = tx.Del(ctx, key).Err()
				return ErrResetNotFound
			}

			if time.Now().Unix() > record.ExpiresAt {
				_ = tx.Del(ctx, key).Err()
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				exceeded := int(record.Attempts)+1 >= maxAttempts
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					if exceeded {
						pipe.Del(ctx, key)
					} else {
						pipe.HIncrBy(ctx, key, resetFieldAttempts, 1)
					}
					return nil
				})
				if err != nil {
					return err
				}
				if exceeded {
					return ErrResetAttemptsExceeded
				}
				return ErrResetSecretMismatch
			}

			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			}); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		switch {
		case err == nil:
			return matched, nil
		case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetSecretMismatch), errors.Is(err, ErrResetAttemptsExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
	}

	return nil, ErrResetNotFound
}

func parseResetRecord(fields map[string]string) (*PasswordResetRecord, error) {
	record := &PasswordResetRecord{AccountID: fields[resetFieldAccount]}
	if record.AccountID == "" {
		return nil, errors.New("reset record without account")
	}

	secret, err := hex.DecodeString(fields[resetFieldSecret])
	if err != nil || len(secret) != len(record.SecretHash) {
		return nil, errors.New("malformed reset secret")
	}
	copy(record.SecretHash[:], secret)

	if record.ExpiresAt, err = strconv.ParseInt(fields[resetFieldExpires], 10, 64); err != nil {
		return nil, err
	}
	attempts, err := strconv.ParseUint(fields[resetFieldAttempts], 10, 16)
	if err != nil {
		return nil, err
	}
	record.Attempts = uint16(attempts)
	return record, nil
}
