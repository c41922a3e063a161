package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/neurocheck/authgate"
	"go.uber.org/zap"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{authgate.ErrInvalidInput, http.StatusBadRequest, "invalid_input", "Invalid request"},
	{authgate.ErrUnavailable, http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable, please retry"},
	{authgate.ErrCaptchaRateLimited, http.StatusTooManyRequests, "rate_limited", "Too many requests"},
	{authgate.ErrChallengeNotFound, http.StatusBadRequest, "captcha_not_found", "CAPTCHA session not found"},
	{authgate.ErrChallengeExpired, http.StatusBadRequest, "captcha_expired", "CAPTCHA expired"},
	{authgate.ErrAccountNotFound, http.StatusNotFound, "not_found", "Account not found"},
	{authgate.ErrAccountExists, http.StatusConflict, "account_exists", "An account with this email already exists"},
	{authgate.ErrAccountRoleInvalid, http.StatusBadRequest, "invalid_role", "Invalid role"},
	{authgate.ErrTwoFactorAlreadyEnabled, http.StatusConflict, "two_factor_enabled", "Two-factor authentication is already enabled"},
	{authgate.ErrTwoFactorNotEnabled, http.StatusBadRequest, "two_factor_not_enabled", "Two-factor authentication is not enabled"},
	{authgate.ErrTwoFactorSetupNotFound, http.StatusBadRequest, "setup_not_found", "No pending two-factor setup, start again"},
	{authgate.ErrInvalidTwoFactorCode, http.StatusUnauthorized, "invalid_two_factor_code", "Invalid two-factor code"},
	{authgate.ErrInvalidBackupCode, http.StatusUnauthorized, "invalid_backup_code", "Invalid backup code"},
	{authgate.ErrInvalidPassword, http.StatusUnauthorized, "invalid_password", "Invalid password"},
	{authgate.ErrPasswordPolicy, http.StatusBadRequest, "password_policy", "Password does not meet the requirements"},
	{authgate.ErrPasswordReuse, http.StatusBadRequest, "password_reuse", "New password must be different from the current password"},
	{authgate.ErrPasswordResetDisabled, http.StatusNotFound, "reset_disabled", "Password reset is not available"},
	{authgate.ErrPasswordResetInvalid, http.StatusBadRequest, "reset_invalid", "Reset link is invalid or has expired"},
}

// writeError never echoes err to the client; it is only logged.
func (h *Handler) writeError(c *gin.Context, err error) {
	var loginErr *authgate.LoginError
	if errors.As(err, &loginErr) {
		h.writeLoginError(c, loginErr)
		return
	}
	var captchaErr *authgate.CaptchaError
	if errors.As(err, &captchaErr) {
		body := gin.H{"message": "Incorrect CAPTCHA answer", "code": "incorrect_captcha", "attemptsLeft": captchaErr.AttemptsLeft}
		if captchaErr.Replacement != nil {
			body["captchaSessionId"] = captchaErr.Replacement.SessionID
			body["challenge"] = captchaErr.Replacement.Challenge
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
			}
			c.JSON(m.status, gin.H{"message": m.message, "code": m.code})
			return
		}
	}

	h.logger.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "code": "internal"})
}

func (h *Handler) writeLoginError(c *gin.Context, err *authgate.LoginError) {
	body := gin.H{"code": err.Kind.String()}
	status := http.StatusUnauthorized

	switch err.Kind {
	case authgate.RejectAccountLocked:
		status = http.StatusLocked
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		body["message"] = "Account temporarily locked due to too many failed attempts"
		body["retryAfterSeconds"] = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
	case authgate.RejectCaptchaRequired:
		body["message"] = "CAPTCHA verification required"
		body["requiresCaptcha"] = true
	case authgate.RejectIncorrectCaptcha:
		body["message"] = "Incorrect CAPTCHA answer"
		body["requiresCaptcha"] = true
		body["attemptsLeft"] = err.AttemptsLeft
	case authgate.RejectInvalidTwoFactorCode:
		body["message"] = "Invalid two-factor code"
		body["requiresTwoFactor"] = true
	case authgate.RejectInvalidBackupCode:
		body["message"] = "Invalid backup code"
		body["requiresTwoFactor"] = true
	default:
		body["message"] = "Invalid email or password"
	}
	if err.Challenge != nil {
		body["captchaSessionId"] = err.Challenge.SessionID
		body["challenge"] = err.Challenge.Challenge
	}
	c.JSON(status, body)
}
