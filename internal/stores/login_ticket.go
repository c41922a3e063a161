package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ticketRecordVersionV1 = 1
)

var (
	ErrTicketNotFound = errors.New("two-factor ticket not found")
	ErrTicketExpired  = errors.New("two-factor ticket expired")
	ErrTicketBackend  = errors.New("two-factor ticket redis unavailable")
)

// LoginTicket marks a login that passed the captcha and password checks
// and now waits for a second factor.
type LoginTicket struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

type LoginTicketStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewLoginTicketStore(redisClient redis.UniversalClient, prefix string) *LoginTicketStore {
	if prefix == "" {
		prefix = "a2t"
	}
	return &LoginTicketStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *LoginTicketStore) key(ticketID string) string {
	return s.prefix + ":" + ticketID
}

func (s *LoginTicketStore) Save(ctx context.Context, ticketID string, record *LoginTicket, ttl time.Duration) error {
	encoded, err := encodeLoginTicket(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ticketID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}
	return nil
}

func (s *LoginTicketStore) Get(ctx context.Context, ticketID string) (*LoginTicket, error) {
	data, err := s.redis.Get(ctx, s.key(ticketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}

	record, err := decodeLoginTicket(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(ticketID)).Result()
		return nil, ErrTicketExpired
	}
	return record, nil
}

func (s *LoginTicketStore) Delete(ctx context.Context, ticketID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(ticketID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong second factor against the ticket and
// deletes it once maxAttempts is reached. exceeded reports that deletion.
func (s *LoginTicketStore) RecordFailure(ctx context.Context, ticketID string, maxAttempts int) (bool, error) {
	key := s.key(ticketID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeLoginTicket(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			record.Attempts++
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				exceeded = int(record.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrTicketExpired
				}
				return nil
			}

			updated, err := encodeLoginTicket(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrTicketNotFound
			}
			if errors.Is(err, ErrTicketExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrTicketBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrTicketNotFound
}

func encodeLoginTicket(record *LoginTicket) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(ticketRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.AccountID); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeLoginTicket(data []byte) (*LoginTicket, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ticketRecordVersionV1 {
		return nil, errors.New("invalid two-factor ticket version")
	}

	record := &LoginTicket{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.AccountID, err = readString(reader); err != nil {
		return nil, err
	}

	return record, nil
}
