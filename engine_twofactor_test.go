package authgate_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neurocheck/authgate"
	"github.com/pquerna/otp/totp"
)

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

// enrolled creates an account with two-factor enabled and returns its
// secret and backup codes.
func enrolled(t *testing.T, h *harness, email string) (*authgate.AccountProfile, *authgate.TwoFactorSetup) {
	t.Helper()
	ctx := context.Background()
	profile := h.createAccount(t, email)

	setup, err := h.engine.SetupTwoFactor(ctx, profile.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, currentCode(t, setup.Secret)); err != nil {
		t.Fatalf("enable: %v", err)
	}
	return profile, setup
}

func TestTwoFactorSetupAndEnable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	profile := h.createAccount(t, "tfa@clinic.test")

	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, "123456"); !errors.Is(err, authgate.ErrTwoFactorSetupNotFound) {
		t.Fatalf("expected setup not found, got %v", err)
	}

	setup, err := h.engine.SetupTwoFactor(ctx, profile.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if setup.Secret == "" || setup.QRCodeURL == "" || setup.ProvisioningURI == "" || setup.ManualEntryKey == "" {
		t.Fatalf("incomplete setup %+v", setup)
	}
	if len(setup.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(setup.BackupCodes))
	}

	status, err := h.engine.TwoFactorStatus(ctx, profile.ID)
	if err != nil || status.Enabled || !status.PendingSetup {
		t.Fatalf("expected pending setup, got %+v / %v", status, err)
	}

	// Pending setup is not enforced at login.
	step, err := h.login(authgate.LoginAttempt{Email: "tfa@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("pending setup must not require a code, got %+v / %v", step, err)
	}

	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, "000000"); !errors.Is(err, authgate.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, currentCode(t, setup.Secret)); err != nil {
		t.Fatalf("enable after a wrong code: %v", err)
	}

	status, err = h.engine.TwoFactorStatus(ctx, profile.ID)
	if err != nil || !status.Enabled || status.PendingSetup || status.BackupCodesRemaining != 10 {
		t.Fatalf("unexpected status %+v / %v", status, err)
	}
	if _, err := h.engine.SetupTwoFactor(ctx, profile.ID); !errors.Is(err, authgate.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected already enabled, got %v", err)
	}
	if err := h.engine.VerifyTwoFactorLogin(ctx, profile.ID, currentCode(t, setup.Secret)); err != nil {
		t.Fatalf("verify login code: %v", err)
	}
}

func TestTwoFactorSetupExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	profile := h.createAccount(t, "slow@clinic.test")

	setup, err := h.engine.SetupTwoFactor(ctx, profile.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	h.redis.FastForward(11 * time.Minute)

	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, currentCode(t, setup.Secret)); !errors.Is(err, authgate.ErrTwoFactorSetupNotFound) {
		t.Fatalf("expected expired setup, got %v", err)
	}
	status, err := h.engine.TwoFactorStatus(ctx, profile.ID)
	if err != nil || status.PendingSetup {
		t.Fatalf("expired setup still pending: %+v / %v", status, err)
	}
}

func TestLoginWithTwoFactorTicket(t *testing.T) {
	h := newHarness(t, nil)
	profile, setup := enrolled(t, h, "doc@clinic.test")

	step, err := h.login(authgate.LoginAttempt{Email: "doc@clinic.test", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if step.Kind != authgate.StepNeedsTwoFactor || step.TwoFactorTicket == "" || step.SessionToken != "" {
		t.Fatalf("expected two-factor step, got %+v", step)
	}

	_, err = h.login(authgate.LoginAttempt{
		Email:           "doc@clinic.test",
		Password:        testPassword,
		TwoFactorTicket: step.TwoFactorTicket,
		TwoFactorCode:   "000000",
	})
	if !isReject(err, authgate.RejectInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if got := h.failures(t, profile.ID); got != 1 {
		t.Fatalf("a wrong second factor counts as a failure, got %d", got)
	}

	done, err := h.login(authgate.LoginAttempt{
		Email:           "doc@clinic.test",
		Password:        testPassword,
		TwoFactorTicket: step.TwoFactorTicket,
		TwoFactorCode:   currentCode(t, setup.Secret),
	})
	if err != nil || done.Kind != authgate.StepAuthenticated || done.SessionToken == "" {
		t.Fatalf("expected session, got %+v / %v", done, err)
	}
	if !done.Profile.TwoFactorEnabled {
		t.Fatal("profile should report two-factor enabled")
	}
}

func TestTwoFactorTicketSkipsCaptcha(t *testing.T) {
	h := newHarness(t, nil)
	_, setup := enrolled(t, h, "gate@clinic.test")
	h.failLogins(t, "gate@clinic.test", 3)

	step, err := h.login(authgate.LoginAttempt{Email: "gate@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepNeedsCaptcha {
		t.Fatalf("expected captcha step, got %+v / %v", step, err)
	}
	step, err = h.login(authgate.LoginAttempt{
		Email:            "gate@clinic.test",
		Password:         testPassword,
		CaptchaSessionID: step.Challenge.SessionID,
		CaptchaAnswer:    solve(t, step.Challenge.Challenge),
	})
	if err != nil || step.Kind != authgate.StepNeedsTwoFactor {
		t.Fatalf("expected two-factor step, got %+v / %v", step, err)
	}

	done, err := h.login(authgate.LoginAttempt{
		Email:           "gate@clinic.test",
		Password:        testPassword,
		TwoFactorTicket: step.TwoFactorTicket,
		TwoFactorCode:   currentCode(t, setup.Secret),
	})
	if err != nil || done.Kind != authgate.StepAuthenticated {
		t.Fatalf("ticket should bypass the captcha gate, got %+v / %v", done, err)
	}
}

func TestLoginWithBackupCode(t *testing.T) {
	h := newHarness(t, nil)
	_, setup := enrolled(t, h, "backup@clinic.test")
	code := setup.BackupCodes[0]

	step, err := h.login(authgate.LoginAttempt{Email: "backup@clinic.test", Password: testPassword, BackupCode: code})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("backup code login: %+v / %v", step, err)
	}
	if step.BackupCodesRemaining != 9 || step.BackupCodesLow {
		t.Fatalf("unexpected remaining %d low=%v", step.BackupCodesRemaining, step.BackupCodesLow)
	}

	_, err = h.login(authgate.LoginAttempt{Email: "backup@clinic.test", Password: testPassword, BackupCode: code})
	if !isReject(err, authgate.RejectInvalidBackupCode) {
		t.Fatalf("backup code reuse must fail, got %v", err)
	}
}

func TestVerifyBackupCodeLowWatermark(t *testing.T) {
	h := newHarness(t, nil)
	profile, setup := enrolled(t, h, "low@clinic.test")
	ctx := context.Background()

	var result *authgate.BackupCodeResult
	for i := 0; i < 8; i++ {
		var err error
		result, err = h.engine.VerifyBackupCode(ctx, profile.ID, setup.BackupCodes[i])
		if err != nil {
			t.Fatalf("code %d: %v", i, err)
		}
	}
	if result.Remaining != 2 || !result.Low {
		t.Fatalf("expected low at 2 remaining, got %+v", result)
	}
	if _, err := h.engine.VerifyBackupCode(ctx, profile.ID, setup.BackupCodes[0]); !errors.Is(err, authgate.ErrInvalidBackupCode) {
		t.Fatalf("spent code accepted: %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	h := newHarness(t, nil)
	profile, setup := enrolled(t, h, "off@clinic.test")
	ctx := context.Background()

	if err := h.engine.DisableTwoFactor(ctx, profile.ID, "wrong-password", currentCode(t, setup.Secret)); !errors.Is(err, authgate.ErrInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, profile.ID, testPassword, ""); !errors.Is(err, authgate.ErrTwoFactorRequired) {
		t.Fatalf("expected code required, got %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, profile.ID, testPassword, setup.BackupCodes[0]); err != nil {
		t.Fatalf("disable with backup code: %v", err)
	}

	status, err := h.engine.TwoFactorStatus(ctx, profile.ID)
	if err != nil || status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("unexpected status after disable %+v / %v", status, err)
	}
	if err := h.engine.DisableTwoFactor(ctx, profile.ID, testPassword, ""); !errors.Is(err, authgate.ErrTwoFactorNotEnabled) {
		t.Fatalf("expected not enabled, got %v", err)
	}

	step, err := h.login(authgate.LoginAttempt{Email: "off@clinic.test", Password: testPassword})
	if err != nil || step.Kind != authgate.StepAuthenticated {
		t.Fatalf("login after disable: %+v / %v", step, err)
	}
}

func TestDisableCancelsPendingSetup(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	profile := h.createAccount(t, "cancel@clinic.test")

	if _, err := h.engine.SetupTwoFactor(ctx, profile.ID); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, profile.ID, testPassword, ""); err != nil {
		t.Fatalf("cancel pending setup: %v", err)
	}
	status, err := h.engine.TwoFactorStatus(ctx, profile.ID)
	if err != nil || status.PendingSetup || status.Enabled {
		t.Fatalf("setup still pending: %+v / %v", status, err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	h := newHarness(t, nil)
	profile, setup := enrolled(t, h, "regen@clinic.test")
	ctx := context.Background()

	if _, err := h.engine.RegenerateBackupCodes(ctx, profile.ID, ""); !errors.Is(err, authgate.ErrTwoFactorRequired) {
		t.Fatalf("expected code required, got %v", err)
	}
	if _, err := h.engine.RegenerateBackupCodes(ctx, profile.ID, "000000"); !errors.Is(err, authgate.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}

	codes, err := h.engine.RegenerateBackupCodes(ctx, profile.ID, currentCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}
	if _, err := h.engine.VerifyBackupCode(ctx, profile.ID, setup.BackupCodes[0]); !errors.Is(err, authgate.ErrInvalidBackupCode) {
		t.Fatalf("old code survived regeneration: %v", err)
	}
	if _, err := h.engine.VerifyBackupCode(ctx, profile.ID, codes[0]); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestTwoFactorReplayProtection(t *testing.T) {
	h := newHarness(t, func(c *authgate.Config) { c.TwoFactor.EnforceReplayProtection = true })
	profile := h.createAccount(t, "replay@clinic.test")
	ctx := context.Background()

	setup, err := h.engine.SetupTwoFactor(ctx, profile.ID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	code := currentCode(t, setup.Secret)
	if err := h.engine.VerifyAndEnableTwoFactor(ctx, profile.ID, code); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := h.engine.VerifyTwoFactorLogin(ctx, profile.ID, code); !errors.Is(err, authgate.ErrInvalidTwoFactorCode) {
		t.Fatalf("replayed code accepted: %v", err)
	}
}

func TestTwoFactorConcurrentLoginsWithOneCode(t *testing.T) {
	h := newHarness(t, func(c *authgate.Config) { c.TwoFactor.EnforceReplayProtection = true })
	profile, setup := enrolled(t, h, "race@clinic.test")

	// Enabling spent the current step; the next one is still inside the
	// skew window.
	code, err := totp.GenerateCode(setup.Secret, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	const callers = 8
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.engine.VerifyTwoFactorLogin(context.Background(), profile.ID, code)
			switch {
			case err == nil:
				accepted.Add(1)
			case !errors.Is(err, authgate.ErrInvalidTwoFactorCode):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("expected exactly one login to accept the code, got %d", got)
	}
}
