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
	captchaRecordVersionV1 = 1
)

var (
	ErrCaptchaNotFound = errors.New("captcha record not found")
	ErrCaptchaExpired  = errors.New("captcha record expired")
	ErrCaptchaBackend  = errors.New("captcha redis unavailable")
)

// checkCaptchaLua compares a submitted answer and updates the record in one
// round trip.
// KEYS[1] = record key
// ARGV[1] = submitted answer, -1 when the input was not a number
// ARGV[2] = current unix timestamp
// ARGV[3] = account key of the caller, may be empty
//
// Returns -1 when solved (record deleted), otherwise the attempts left.
// Zero attempts left means the record was deleted. A record bound to
// another account key reads as not_found and is left untouched; an unbound
// record is bound to the first non-empty key that answers it wrongly.
var checkCaptchaLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local expiresAt = 0
for i = 4, 11 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
if tonumber(ARGV[2]) > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

local challengeLen = string.byte(data, 14) * 256 + string.byte(data, 15)
local ownerAt = 16 + challengeLen
local ownerLen = string.byte(data, ownerAt) * 256 + string.byte(data, ownerAt + 1)
local owner = string.sub(data, ownerAt + 2, ownerAt + 1 + ownerLen)
local caller = ARGV[3]
if owner ~= '' and caller ~= '' and owner ~= caller then
  return {err='not_found'}
end

local answer = string.byte(data, 12) * 256 + string.byte(data, 13)
if tonumber(ARGV[1]) == answer then
  redis.call('DEL', KEYS[1])
  return -1
end

attempts = attempts - 1
if attempts <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end

local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end
local head = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4, ownerAt - 1)
local tail = string.sub(data, ownerAt)
if owner == '' and caller ~= '' then
  tail = string.char(math.floor(#caller / 256), #caller % 256) .. caller
end
redis.call('SET', KEYS[1], head .. tail, 'PX', ttlMs)
return attempts
`)

// CaptchaRecord is a stored arithmetic challenge. AccountKey is the
// normalized email of the login that asked for it; empty for prefetched
// challenges.
type CaptchaRecord struct {
	Answer       uint16
	Challenge    string
	ExpiresAt    int64
	AttemptsLeft uint16
	AccountKey   string
}

type CaptchaStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCaptchaStore(redisClient redis.UniversalClient, prefix string) *CaptchaStore {
	if prefix == "" {
		prefix = "acp"
	}
	return &CaptchaStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CaptchaStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *CaptchaStore) Save(ctx context.Context, sessionID string, record *CaptchaRecord, ttl time.Duration) error {
	encoded, err := encodeCaptchaRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptchaBackend, err)
	}
	return nil
}

// Check consumes one attempt against the record on behalf of accountKey.
// A negative answer never matches. solved is true only for a correct
// answer; otherwise attemptsLeft reports what remains, with zero meaning the
// record is gone. An empty accountKey skips the binding check.
func (s *CaptchaStore) Check(ctx context.Context, sessionID, accountKey string, answer int) (solved bool, attemptsLeft int, err error) {
	if answer < 0 || answer > 65535 {
		answer = -1
	}

	result, err := checkCaptchaLua.Run(ctx, s.redis,
		[]string{s.key(sessionID)},
		answer,
		time.Now().Unix(),
		accountKey,
	).Int()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return false, 0, ErrCaptchaNotFound
		case "expired":
			return false, 0, ErrCaptchaExpired
		default:
			return false, 0, fmt.Errorf("%w: %v", ErrCaptchaBackend, err)
		}
	}

	if result < 0 {
		return true, 0, nil
	}
	return false, result, nil
}

func encodeCaptchaRecord(record *CaptchaRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(captchaRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.AttemptsLeft); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.Answer); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.Challenge); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.AccountKey); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
