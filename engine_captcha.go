package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/neurocheck/authgate/internal/rate"
)

// IssueCaptcha returns a fresh challenge outside of a login call, for
// clients that prefetch one. Requests are throttled per client IP (see
// WithClientIP); ErrCaptchaRateLimited is returned once the budget is spent.
func (e *Engine) IssueCaptcha(ctx context.Context) (*CaptchaChallenge, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	if err := e.captchaLimiter.Allow(ctx, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricCaptchaRateLimited)
			e.emitAudit(ctx, auditEventCaptchaRateLimited, false, "", "", "rate_limited", nil)
			return nil, ErrCaptchaRateLimited
		}
		return nil, unavailable(err)
	}

	challenge, err := e.captcha.issue(ctx, "")
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricCaptchaIssued)
	return challenge, nil
}

// VerifyCaptcha checks answer against a stored challenge without tying it
// to an account. A correct answer consumes the challenge. A wrong one
// returns *CaptchaError; when it was the last attempt the error carries a
// replacement challenge.
func (e *Engine) VerifyCaptcha(ctx context.Context, sessionID, answer string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || len(sessionID) > 64 {
		return ErrInvalidInput
	}

	err := e.captcha.verify(ctx, sessionID, "", answer)
	switch {
	case err == nil:
		e.metricInc(MetricCaptchaSolved)
	case errors.Is(err, ErrIncorrectCaptcha):
		e.metricInc(MetricCaptchaFailed)
		e.emitAudit(ctx, auditEventCaptchaFailed, false, "", "", "incorrect_answer", nil)
	}
	return err
}
