package authgate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/neurocheck/authgate/internal"
	"github.com/neurocheck/authgate/internal/stores"
)

type captchaManager struct {
	config    CaptchaConfig
	store     *stores.CaptchaStore
	randomInt func(int) (int, error)
}

func newCaptchaManager(cfg CaptchaConfig, store *stores.CaptchaStore) *captchaManager {
	return &captchaManager{
		config:    cfg,
		store:     store,
		randomInt: internal.RandomInt,
	}
}

// issue stores a new "a + b" or "a - b" challenge bound to accountKey,
// which is empty for prefetched challenges. Subtraction always puts the
// larger operand first so answers are never negative.
func (m *captchaManager) issue(ctx context.Context, accountKey string) (*CaptchaChallenge, error) {
	a, err := m.operand()
	if err != nil {
		return nil, err
	}
	b, err := m.operand()
	if err != nil {
		return nil, err
	}
	op, err := m.randomInt(2)
	if err != nil {
		return nil, err
	}

	var text string
	var answer int
	if op == 0 {
		text = strconv.Itoa(a) + " + " + strconv.Itoa(b)
		answer = a + b
	} else {
		if b > a {
			a, b = b, a
		}
		text = strconv.Itoa(a) + " - " + strconv.Itoa(b)
		answer = a - b
	}

	sessionID, err := internal.NewOpaqueString()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(m.config.TTL)
	err = m.store.Save(ctx, sessionID, &stores.CaptchaRecord{
		Answer:       uint16(answer),
		Challenge:    text,
		ExpiresAt:    expiresAt.Unix(),
		AttemptsLeft: uint16(m.config.MaxAttempts),
		AccountKey:   accountKey,
	}, m.config.TTL)
	if err != nil {
		return nil, unavailable(err)
	}

	return &CaptchaChallenge{
		SessionID: sessionID,
		Challenge: text,
		ExpiresAt: expiresAt,
	}, nil
}

func (m *captchaManager) operand() (int, error) {
	n, err := m.randomInt(m.config.MaxOperand)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// verify checks answer against the stored challenge. The answer is parsed
// as an integer and compared exactly; anything unparsable is a wrong answer.
// A challenge bound to another account reads as not found. When the last
// attempt is used up a replacement bound to accountKey is issued.
func (m *captchaManager) verify(ctx context.Context, sessionID, accountKey, answer string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrChallengeNotFound
	}

	submitted, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		submitted = -1
	}

	solved, left, err := m.store.Check(ctx, sessionID, accountKey, submitted)
	switch {
	case errors.Is(err, stores.ErrCaptchaNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrCaptchaExpired):
		return ErrChallengeExpired
	case err != nil:
		return unavailable(err)
	}
	if solved {
		return nil
	}

	out := &CaptchaError{AttemptsLeft: left}
	if left == 0 {
		replacement, err := m.issue(ctx, accountKey)
		if err != nil {
			return err
		}
		out.Replacement = replacement
	}
	return out
}
