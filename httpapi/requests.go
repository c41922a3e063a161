package httpapi

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexString accepts a JSON string or number. The login form sends the
// captcha answer as whichever the browser produced.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type loginRequest struct {
	Email            string     `json:"email" binding:"required"`
	Password         string     `json:"password" binding:"required"`
	CaptchaSessionID string     `json:"captchaSessionId"`
	CaptchaAnswer    flexString `json:"captchaAnswer"`
	TwoFactorCode    string     `json:"twoFactorCode"`
	BackupCode       string     `json:"backupCode"`
	TwoFactorTicket  string     `json:"twoFactorTicket"`
	IsUnlock         bool       `json:"isUnlock"`
}

type codeRequest struct {
	TwoFactorCode string `json:"twoFactorCode" binding:"required"`
}

type disableTwoFactorRequest struct {
	Password      string `json:"password" binding:"required"`
	TwoFactorCode string `json:"twoFactorCode"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}
