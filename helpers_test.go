package authgate_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/store/memory"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-1"

type harness struct {
	engine   *authgate.Engine
	store    *memory.Store
	redis    *miniredis.Miniredis
	notifier *captureNotifier
}

type fakeSessions struct{}

func (fakeSessions) IssueSession(_ context.Context, profile authgate.AccountProfile) (string, error) {
	return "session-" + profile.ID, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, email, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[email] = token
	return nil
}

func (n *captureNotifier) token(email string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	token, ok := n.tokens[email]
	return token, ok
}

func testConfig() authgate.Config {
	cfg := authgate.DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t *testing.T, mutate func(*authgate.Config)) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.New()
	notifier := &captureNotifier{}
	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithSessionIssuer(fakeSessions{}).
		WithResetNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: store, redis: mr, notifier: notifier}
}

func (h *harness) createAccount(t *testing.T, email string) *authgate.AccountProfile {
	t.Helper()
	profile, err := h.engine.CreateAccount(context.Background(), authgate.CreateAccountRequest{
		Email:    email,
		Password: testPassword,
		Role:     authgate.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return profile
}

func (h *harness) login(attempt authgate.LoginAttempt) (*authgate.LoginStep, error) {
	return h.engine.Login(context.Background(), attempt)
}

// failLogins submits n wrong passwords without a captcha.
func (h *harness) failLogins(t *testing.T, email string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := h.login(authgate.LoginAttempt{Email: email, Password: "wrong-password"})
		if !isReject(err, authgate.RejectInvalidCredentials) {
			t.Fatalf("failure %d: expected invalid credentials, got %v", i+1, err)
		}
	}
}

func (h *harness) failures(t *testing.T, accountID string) int {
	t.Helper()
	n, _, err := h.engine.LockoutStatus(context.Background(), accountID)
	if err != nil {
		t.Fatalf("lockout status: %v", err)
	}
	return n
}

func isReject(err error, kind authgate.RejectKind) bool {
	var le *authgate.LoginError
	return errors.As(err, &le) && le.Kind == kind
}

// solve answers an "a + b" or "a - b" challenge.
func solve(t *testing.T, challenge string) string {
	t.Helper()
	parts := strings.Fields(challenge)
	if len(parts) != 3 {
		t.Fatalf("unexpected challenge %q", challenge)
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected challenge %q", challenge)
	}
	switch parts[1] {
	case "+":
		return strconv.Itoa(a + b)
	case "-":
		return strconv.Itoa(a - b)
	}
	t.Fatalf("unexpected operator in %q", challenge)
	return ""
}
