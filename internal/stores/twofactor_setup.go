package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	setupRecordVersionV1 = 1
)

var (
	ErrSetupNotFound = errors.New("two-factor setup not found")
	ErrSetupBackend  = errors.New("two-factor setup redis unavailable")
)

// TwoFactorSetupRecord is an enrollment that has not been confirmed yet.
// Secret is the base32 TOTP seed; CodeHashes are the digests of the backup
// codes that were shown to the user with it.
type TwoFactorSetupRecord struct {
	Secret     string
	CodeHashes [][32]byte
	ExpiresAt  int64
}

type TwoFactorSetupStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTwoFactorSetupStore(redisClient redis.UniversalClient, prefix string) *TwoFactorSetupStore {
	if prefix == "" {
		prefix = "a2s"
	}
	return &TwoFactorSetupStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TwoFactorSetupStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Save replaces any earlier pending enrollment for the account.
func (s *TwoFactorSetupStore) Save(ctx context.Context, accountID string, record *TwoFactorSetupRecord, ttl time.Duration) error {
	encoded, err := encodeSetupRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(accountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}
	return nil
}

func (s *TwoFactorSetupStore) Get(ctx context.Context, accountID string) (*TwoFactorSetupRecord, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSetupNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}

	record, err := decodeSetupRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(accountID)).Result()
		return nil, ErrSetupNotFound
	}
	return record, nil
}

func (s *TwoFactorSetupStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSetupBackend, err)
	}
	return nil
}

func encodeSetupRecord(record *TwoFactorSetupRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(setupRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Secret); err != nil {
		return nil, err
	}
	if len(record.CodeHashes) > 255 {
		return nil, errFieldTooLong
	}
	buf.WriteByte(byte(len(record.CodeHashes)))
	for _, h := range record.CodeHashes {
		buf.Write(h[:])
	}

	return buf.Bytes(), nil
}

func decodeSetupRecord(data []byte) (*TwoFactorSetupRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != setupRecordVersionV1 {
		return nil, errors.New("invalid two-factor setup version")
	}

	record := &TwoFactorSetupRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.Secret, err = readString(reader); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.CodeHashes = make([][32]byte, count)
	for i := range record.CodeHashes {
		if _, err := io.ReadFull(reader, record.CodeHashes[i][:]); err != nil {
			return nil, err
		}
	}

	return record, nil
}
