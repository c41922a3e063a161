package authgate

import (
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const totpSecretBytes = 20

var totpSecretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TwoFactorConfig
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	return &totpManager{config: cfg}
}

func (m *totpManager) digits() otp.Digits {
	if m.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Generate creates a fresh seed for accountName and returns the key with
// its provisioning URI.
func (m *totpManager) Generate(accountName string) (*otp.Key, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}

	return totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      uint(m.config.Period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// QRCodeDataURL renders uri as a PNG data URL for direct use in an <img>.
func (m *totpManager) QRCodeDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, m.config.QRCodeSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// VerifyCode checks code against the windows around now and returns the
// matching time step.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}

	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}
	encoded := totpSecretEncoding.EncodeToString(secret)

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := m.codeAt(encoded, counter)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func (m *totpManager) codeAt(encodedSecret string, counter int64) (string, error) {
	return hotp.GenerateCodeCustom(encodedSecret, uint64(counter), hotp.ValidateOpts{
		Digits:    m.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
}

func decodeTOTPSecret(encoded string) ([]byte, error) {
	return totpSecretEncoding.DecodeString(strings.ToUpper(strings.TrimRight(encoded, "=")))
}

// manualEntryKey groups the base32 seed in blocks of four for typing.
func manualEntryKey(encoded string) string {
	var b strings.Builder
	for i := 0; i < len(encoded); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

func isNumericString(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
