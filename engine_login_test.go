package authgate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neurocheck/authgate"
)

func TestLoginSuccessIssuesSession(t *testing.T) {
	h := newHarness(t, nil)
	profile := h.createAccount(t, "Doctor@Clinic.test")

	step, err := h.login(authgate.LoginAttempt{Email: "doctor@clinic.test", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if step.Kind != authgate.StepAuthenticated {
		t.Fatalf("expected authenticated, got %s", step.Kind)
	}
	if step.Profile == nil || step.Profile.ID != profile.ID || step.Profile.Role != authgate.RoleDoctor {
		t.Fatalf("unexpected profile %+v", step.Profile)
	}
	if step.SessionToken != "session-"+profile.ID {
		t.Fatalf("unexpected session token %q", step.SessionToken)
	}
	if got := h.engine.MetricsSnapshot().Counters[authgate.MetricLoginSuccess]; got != 1 {
		t.Fatalf("expected 1 login success, got %d", got)
	}
}

func TestLoginRejectsMalformedInput(t *testing.T) {
	h := newHarness(t, nil)
	for _, attempt := range []authgate.LoginAttempt{
		{Email: "", Password: "x"},
		{Email: "not-an-email", Password: "x"},
		{Email: "a@clinic.test", Password: ""},
	} {
		if _, err := h.login(attempt); !errors.Is(err, authgate.ErrInvalidInput) {
			t.Fatalf("attempt %+v: expected ErrInvalidInput, got %v", attempt, err)
		}
	}
}

func TestLoginCaptchaAfterSoftThreshold(t *testing.T) {
	h := newHarness(t, nil)
	profile := h.createAccount(t, "nurse@clinic.test")

	h.failLogins(t, "nurse@clinic.test", 3)
	if got := h.failures(t, profile.ID); got != 3 {
		t.Fatalf("expected 3 failures, got %d", got)
	}

	// Even the right password is not evaluated until a captcha is solved.
	step, err := h.login(authgate.LoginAttempt{Email: "nurse@clinic.test", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if step.Kind != authgate.StepNeedsCaptcha || step.Challenge == nil || step.Challenge.SessionID == "" {
		t.Fatalf("expected captcha step, got %+v", step)
	}
	if got := h.failures(t, profile.ID); got != 3 {
		t.Fatalf("captcha gate must not count as a failure, got %d", got)
	}

	step, err = h.login(authgate.LoginAttempt{
		Email:            "nurse@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: step.Challenge.SessionID,
		CaptchaAnswer:    solve(t, step.Challenge.Challenge),
	})
	if err != nil {
		t.Fatalf("login with captcha: %v", err)
	}
	if step.Kind != authgate.StepAuthenticated {
		t.Fatalf("expected authenticated, got %s", step.Kind)
	}
	if got := h.failures(t, profile.ID); got != 0 {
		t.Fatalf("success must reset the counter, got %d", got)
	}
}

func TestLoginWrongCaptchaDoesNotCountAsFailure(t *testing.T) {
	h := newHarness(t, nil)
	profile := h.createAccount(t, "staff@clinic.test")
	h.failLogins(t, "staff@clinic.test", 3)

	step, err := h.login(authgate.LoginAttempt{Email: "staff@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepNeedsCaptcha {
		t.Fatalf("expected captcha step, got %+v / %v", step, err)
	}

	var last *authgate.LoginError
	for want := 2; want >= 0; want-- {
		_, err := h.login(authgate.LoginAttempt{
			Email:            "staff@clinic.test",
			Password:         testPassword,
			CaptchaSessionID: step.Challenge.SessionID,
			CaptchaAnswer:    "-1",
		})
		if !errors.As(err, &last) || last.Kind != authgate.RejectIncorrectCaptcha {
			t.Fatalf("expected incorrect captcha, got %v", err)
		}
		if last.AttemptsLeft != want {
			t.Fatalf("expected %d attempts left, got %d", want, last.AttemptsLeft)
		}
	}
	if last.Challenge == nil || last.Challenge.SessionID == step.Challenge.SessionID {
		t.Fatal("exhausted captcha must come with a replacement")
	}
	if !errors.Is(last, authgate.ErrIncorrectCaptcha) {
		t.Fatal("LoginError must match its sentinel")
	}
	if got := h.failures(t, profile.ID); got != 3 {
		t.Fatalf("captcha failures must not touch the counter, got %d", got)
	}

	step, err = h.login(authgate.LoginAttempt{
		Email:            "staff@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: last.Challenge.SessionID,
		CaptchaAnswer:    solve(t, last.Challenge.Challenge),
	})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("replacement captcha should work, got %+v / %v", step, err)
	}
}

func TestLoginCaptchaIsBoundToItsAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "a@clinic.test")
	victim := h.createAccount(t, "b@clinic.test")
	h.failLogins(t, "a@clinic.test", 3)
	h.failLogins(t, "b@clinic.test", 3)

	step, err := h.login(authgate.LoginAttempt{Email: "a@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepNeedsCaptcha {
		t.Fatalf("expected captcha step, got %+v / %v", step, err)
	}

	_, err = h.login(authgate.LoginAttempt{
		Email:            "b@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: step.Challenge.SessionID,
		CaptchaAnswer:    solve(t, step.Challenge.Challenge),
	})
	var le *authgate.LoginError
	if !errors.As(err, &le) || le.Kind != authgate.RejectCaptchaRequired {
		t.Fatalf("captcha of another account accepted: %v", err)
	}
	if le.Challenge == nil || le.Challenge.SessionID == step.Challenge.SessionID {
		t.Fatal("expected a fresh challenge for the second account")
	}
	if got := h.failures(t, victim.ID); got != 3 {
		t.Fatalf("refused captcha must not touch the counter, got %d", got)
	}

	step, err = h.login(authgate.LoginAttempt{
		Email:            "a@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: step.Challenge.SessionID,
		CaptchaAnswer:    solve(t, step.Challenge.Challenge),
	})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("owner should still solve its captcha, got %+v / %v", step, err)
	}
}

func TestLoginUnknownCaptchaSession(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "admin@clinic.test")
	h.failLogins(t, "admin@clinic.test", 3)

	_, err := h.login(authgate.LoginAttempt{
		Email:            "admin@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: "does-not-exist",
		CaptchaAnswer:    "4",
	})
	var le *authgate.LoginError
	if !errors.As(err, &le) || le.Kind != authgate.RejectCaptchaRequired {
		t.Fatalf("expected captcha required, got %v", err)
	}
	if le.Challenge == nil {
		t.Fatal("expected a fresh challenge")
	}
}

func TestLoginHardThresholdLocks(t *testing.T) {
	h := newHarness(t, nil)
	profile := h.createAccount(t, "locked@clinic.test")
	h.failLogins(t, "locked@clinic.test", 3)

	for i := 4; i <= 5; i++ {
		step, err := h.login(authgate.LoginAttempt{Email: "locked@clinic.test", Password: "wrong-password"})
		if err != nil || step.Kind != authgate.StepNeedsCaptcha {
			t.Fatalf("attempt %d: expected captcha step, got %+v / %v", i, step, err)
		}
		_, err = h.login(authgate.LoginAttempt{
			Email:            "locked@clinic.test",
			Password:         "wrong-password",
			CaptchaSessionID: step.Challenge.SessionID,
			CaptchaAnswer:    solve(t, step.Challenge.Challenge),
		})
		// The attempt that reaches the threshold still reports bad
		// credentials; the lock shows on the next one.
		if !isReject(err, authgate.RejectInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}

	_, err := h.login(authgate.LoginAttempt{Email: "locked@clinic.test", Password: testPassword})
	var le *authgate.LoginError
	if !errors.As(err, &le) || le.Kind != authgate.RejectAccountLocked {
		t.Fatalf("expected account locked, got %v", err)
	}
	if le.RetryAfter <= 14*time.Minute || le.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry after %s", le.RetryAfter)
	}

	n, retry, err := h.engine.LockoutStatus(context.Background(), profile.ID)
	if err != nil || n != 5 || retry <= 0 {
		t.Fatalf("unexpected lockout status n=%d retry=%s err=%v", n, retry, err)
	}
	if got := h.engine.MetricsSnapshot().Counters[authgate.MetricAccountLocked]; got != 1 {
		t.Fatalf("expected one lock event, got %d", got)
	}
}

func TestLoginAfterLockExpiryStillNeedsCaptcha(t *testing.T) {
	h := newHarness(t, nil)
	profile := h.createAccount(t, "expired@clinic.test")

	past := time.Now().Add(-time.Second)
	for i := 0; i < 5; i++ {
		if _, _, err := h.store.IncrementFailedLogins(context.Background(), profile.ID, 5, past); err != nil {
			t.Fatalf("seed failures: %v", err)
		}
	}

	step, err := h.login(authgate.LoginAttempt{Email: "expired@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepNeedsCaptcha {
		t.Fatalf("expected captcha step after lock expiry, got %+v / %v", step, err)
	}
	step, err = h.login(authgate.LoginAttempt{
		Email:            "expired@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: step.Challenge.SessionID,
		CaptchaAnswer:    solve(t, step.Challenge.Challenge),
	})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("expected success, got %+v / %v", step, err)
	}
}

func TestLoginUnknownEmailFollowsSameThresholds(t *testing.T) {
	h := newHarness(t, nil)

	h.failLogins(t, "ghost@clinic.test", 3)
	step, err := h.login(authgate.LoginAttempt{Email: "ghost@clinic.test", Password: "x"})
	if err != nil || step.Kind != authgate.StepNeedsCaptcha {
		t.Fatalf("expected captcha step for unknown email, got %+v / %v", step, err)
	}

	for i := 0; i < 2; i++ {
		step, err := h.login(authgate.LoginAttempt{Email: "ghost@clinic.test", Password: "x"})
		if err != nil || step.Kind != authgate.StepNeedsCaptcha {
			t.Fatalf("expected captcha step, got %+v / %v", step, err)
		}
		_, err = h.login(authgate.LoginAttempt{
			Email:            "ghost@clinic.test",
			Password:         "x",
			CaptchaSessionID: step.Challenge.SessionID,
			CaptchaAnswer:    solve(t, step.Challenge.Challenge),
		})
		if !isReject(err, authgate.RejectInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}

	if _, err := h.login(authgate.LoginAttempt{Email: "ghost@clinic.test", Password: "x"}); !isReject(err, authgate.RejectAccountLocked) {
		t.Fatalf("expected shadow lock, got %v", err)
	}
}

func TestCreateAccountClearsShadowFailures(t *testing.T) {
	h := newHarness(t, nil)
	const email = "newcomer@clinic.test"

	h.failLogins(t, email, 3)
	if !hasShadowKey(h, email) {
		t.Fatal("expected shadow failures for unknown email")
	}

	h.createAccount(t, email)
	if hasShadowKey(h, email) {
		t.Fatal("shadow failures survived account creation")
	}

	step, err := h.login(authgate.LoginAttempt{Email: email, Password: testPassword})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("expected clean login without captcha, got %+v / %v", step, err)
	}
}

func hasShadowKey(h *harness, email string) bool {
	for _, key := range h.redis.Keys() {
		if strings.HasSuffix(key, ":"+email) && strings.Contains(key, ":n:") {
			return true
		}
	}
	return false
}

func TestLoginUnlockIssuesNoSession(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "unlock@clinic.test")

	step, err := h.login(authgate.LoginAttempt{Email: "unlock@clinic.test", Password: testPassword, IsUnlock: true})
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if step.Kind != authgate.StepAuthenticated || step.SessionToken != "" || step.Profile == nil {
		t.Fatalf("unexpected unlock step %+v", step)
	}
	if got := h.engine.MetricsSnapshot().Counters[authgate.MetricUnlockSuccess]; got != 1 {
		t.Fatalf("expected one unlock, got %d", got)
	}
}

func TestLoginBackendUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.redis.Close()

	_, err := h.login(authgate.LoginAttempt{Email: "ghost@clinic.test", Password: "x"})
	if !errors.Is(err, authgate.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestVerifyCredentialsAndCheckLockout(t *testing.T) {
	h := newHarness(t, nil)
	h.createAccount(t, "check@clinic.test")
	ctx := context.Background()

	account, err := h.engine.VerifyCredentials(ctx, "check@clinic.test", testPassword)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := h.engine.VerifyCredentials(ctx, "check@clinic.test", "nope"); !errors.Is(err, authgate.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := h.engine.CheckLockout(account); err != nil {
		t.Fatalf("fresh account locked: %v", err)
	}
	if h.engine.RequiresCaptcha(account) {
		t.Fatal("fresh account requires captcha")
	}

	account.FailedLogins = 5
	account.LockedUntil = time.Now().Add(time.Minute)
	var lockErr *authgate.LockoutError
	if err := h.engine.CheckLockout(account); !errors.As(err, &lockErr) || lockErr.RetryAfter <= 0 {
		t.Fatalf("expected LockoutError, got %v", err)
	}
	if !h.engine.RequiresCaptcha(account) {
		t.Fatal("account past soft threshold must require captcha")
	}
}
