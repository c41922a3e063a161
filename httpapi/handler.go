package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/neurocheck/authgate"
	"github.com/neurocheck/authgate/middleware"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type Handler struct {
	svc      AuthService
	sessions middleware.SessionParser
	logger   *zap.Logger
}

func NewHandler(svc AuthService, sessions middleware.SessionParser, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, sessions: sessions, logger: logger.Named("httpapi")}
}

// Register mounts every route under /auth on r.
func (h *Handler) Register(r gin.IRouter) {
	auth := r.Group("/auth")
	auth.POST("/login", h.Login)
	auth.POST("/captcha", h.IssueCaptcha)
	auth.POST("/forgot-password", h.ForgotPassword)
	auth.POST("/reset-password/:token", h.ResetPassword)

	signedIn := auth.Group("", middleware.RequireSession(h.sessions))
	signedIn.POST("/2fa/setup", h.SetupTwoFactor)
	signedIn.POST("/2fa/verify", h.VerifyTwoFactor)
	signedIn.POST("/2fa/disable", h.DisableTwoFactor)
	signedIn.GET("/2fa/status", h.TwoFactorStatus)
	signedIn.POST("/2fa/backup-codes", h.RegenerateBackupCodes)
	signedIn.POST("/change-password", h.ChangePassword)
	signedIn.POST("/signup", middleware.RequireRole(authgate.RoleAdmin, authgate.RoleOrganizationAdmin), h.Signup)
}

// requestContext carries client IP, user agent and request id to the
// engine for throttling and audit. A caller-supplied X-Request-ID is kept
// when it looks sane.
func requestContext(c *gin.Context) context.Context {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" || len(requestID) > 64 {
		requestID = uuid.NewString()
	}
	c.Header(requestIDHeader, requestID)

	ctx := authgate.WithClientIP(c.Request.Context(), c.ClientIP())
	ctx = authgate.WithUserAgent(ctx, c.Request.UserAgent())
	return authgate.WithRequestID(ctx, requestID)
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request payload", "code": "invalid_input"})
		return false
	}
	return true
}

func accountID(c *gin.Context) (string, bool) {
	claims, ok := middleware.ClaimsFromGin(c)
	if !ok || claims.Subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required", "code": "unauthorized"})
		return "", false
	}
	return claims.Subject, true
}

// Login handles one submission of the login form.
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bind(c, &req) {
		return
	}

	step, err := h.svc.Login(requestContext(c), authgate.LoginAttempt{
		Email:            req.Email,
		Password:         req.Password,
		CaptchaSessionID: req.CaptchaSessionID,
		CaptchaAnswer:    string(req.CaptchaAnswer),
		TwoFactorCode:    req.TwoFactorCode,
		BackupCode:       req.BackupCode,
		TwoFactorTicket:  req.TwoFactorTicket,
		IsUnlock:         req.IsUnlock,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch step.Kind {
	case authgate.StepNeedsCaptcha:
		c.JSON(http.StatusOK, gin.H{
			"requiresCaptcha":  true,
			"captchaSessionId": step.Challenge.SessionID,
			"challenge":        step.Challenge.Challenge,
		})
	case authgate.StepNeedsTwoFactor:
		c.JSON(http.StatusOK, gin.H{
			"requiresTwoFactor": true,
			"twoFactorEnabled":  true,
			"twoFactorTicket":   step.TwoFactorTicket,
		})
	default:
		body := gin.H{"user": step.Profile, "message": "Login successful"}
		if req.IsUnlock {
			body["message"] = "Unlocked"
		}
		if step.SessionToken != "" {
			body["token"] = step.SessionToken
		}
		if step.BackupCodesLow {
			body["backupCodesRemaining"] = step.BackupCodesRemaining
			body["warning"] = "You are running low on backup codes. Generate new ones soon."
		}
		c.JSON(http.StatusOK, body)
	}
}

// IssueCaptcha serves the prefetching "hidden" captcha of the login page.
// POST /auth/captcha
func (h *Handler) IssueCaptcha(c *gin.Context) {
	challenge, err := h.svc.IssueCaptcha(requestContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"captchaSessionId": challenge.SessionID,
		"challenge":        challenge.Challenge,
	})
}

// POST /auth/2fa/setup
func (h *Handler) SetupTwoFactor(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	setup, err := h.svc.SetupTwoFactor(requestContext(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret":         setup.Secret,
		"manualEntryKey": setup.ManualEntryKey,
		"qrCodeUrl":      setup.QRCodeURL,
		"otpauthUrl":     setup.ProvisioningURI,
		"backupCodes":    setup.BackupCodes,
	})
}

// POST /auth/2fa/verify
func (h *Handler) VerifyTwoFactor(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.VerifyAndEnableTwoFactor(requestContext(c), id, req.TwoFactorCode); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication enabled"})
}

// POST /auth/2fa/disable
func (h *Handler) DisableTwoFactor(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req disableTwoFactorRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.DisableTwoFactor(requestContext(c), id, req.Password, req.TwoFactorCode); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Two-factor authentication disabled"})
}

// GET /auth/2fa/status
func (h *Handler) TwoFactorStatus(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	status, err := h.svc.TwoFactorStatus(requestContext(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"twoFactorEnabled":     status.Enabled,
		"pendingSetup":         status.PendingSetup,
		"backupCodesRemaining": status.BackupCodesRemaining,
	})
}

// POST /auth/2fa/backup-codes
func (h *Handler) RegenerateBackupCodes(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	codes, err := h.svc.RegenerateBackupCodes(requestContext(c), id, req.TwoFactorCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backupCodes": codes})
}

// POST /auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.ChangePassword(requestContext(c), id, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password changed"})
}

// ForgotPassword answers identically whether or not the address exists.
// POST /auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If an account exists for this email, a reset link has been sent"})
}

// POST /auth/reset-password/:token
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.svc.ConfirmPasswordReset(requestContext(c), c.Param("token"), req.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset"})
}

// Signup creates an account on behalf of a dashboard administrator.
// POST /auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if !h.bind(c, &req) {
		return
	}
	profile, err := h.svc.CreateAccount(requestContext(c), authgate.CreateAccountRequest{
		Email:    req.Email,
		Password: req.Password,
		Role:     authgate.Role(req.Role),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if claims, ok := middleware.ClaimsFromGin(c); ok {
		h.logger.Info("account created", zap.String("account_id", profile.ID), zap.String("created_by", claims.Subject))
	}
	c.JSON(http.StatusCreated, gin.H{"user": profile})
}
