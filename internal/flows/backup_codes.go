package flows

import (
	"context"
	"crypto/sha256"
	"strings"

	"github.com/neurocheck/authgate/internal"
)

// BackupCodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type BackupCodeMetrics struct {
	BackupCodeUsed   int
	BackupCodeFailed int
	BackupCodeLow    int
}

type BackupCodeEvents struct {
	BackupCodeUsed   string
	BackupCodeFailed string
	BackupCodesLow   string
}

type BackupCodeErrors struct {
	EngineNotReady    error
	BackupCodeInvalid error
}

type BackupCodeDeps struct {
	LowWatermark int

	ConsumeBackupCode func(context.Context, string, [32]byte) (int, bool, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, accountID, reason string, metadata func() map[string]string)

	Metrics BackupCodeMetrics
	Events  BackupCodeEvents
	Errors  BackupCodeErrors
}

// BackupCodeResult is what is left after a code was consumed.
type BackupCodeResult struct {
	Remaining int
	Low       bool
}

// RunVerifyBackupCode consumes code for accountID. Malformed input is
// reported as an invalid code without touching the store.
func RunVerifyBackupCode(ctx context.Context, accountID, code string, deps BackupCodeDeps) (BackupCodeResult, error) {
	normalizeBackupCodeDeps(&deps)

	if deps.ConsumeBackupCode == nil {
		return BackupCodeResult{}, deps.Errors.EngineNotReady
	}

	canonical := CanonicalizeBackupCode(code)
	if canonical == "" {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeFailed, false, accountID, "malformed", nil)
		return BackupCodeResult{}, deps.Errors.BackupCodeInvalid
	}

	remaining, ok, err := deps.ConsumeBackupCode(ctx, accountID, BackupCodeHash(accountID, canonical))
	if err != nil {
		return BackupCodeResult{}, err
	}
	if !ok {
		deps.MetricInc(deps.Metrics.BackupCodeFailed)
		deps.EmitAudit(ctx, deps.Events.BackupCodeFailed, false, accountID, "not_found", nil)
		return BackupCodeResult{}, deps.Errors.BackupCodeInvalid
	}

	result := BackupCodeResult{Remaining: remaining, Low: remaining <= deps.LowWatermark}
	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, accountID, "", nil)
	if result.Low {
		deps.MetricInc(deps.Metrics.BackupCodeLow)
		deps.EmitAudit(ctx, deps.Events.BackupCodesLow, true, accountID, "", nil)
	}
	return result, nil
}

// GenerateBackupCodes returns count display-formatted codes and their
// digests bound to accountID.
func GenerateBackupCodes(accountID string, count, length int, randomIndex func(int) (int, error)) ([]string, [][32]byte, error) {
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	seen := make(map[[32]byte]struct{}, count)

	for len(codes) < count {
		raw, err := NewBackupCode(length, randomIndex)
		if err != nil {
			return nil, nil, err
		}
		h := BackupCodeHash(accountID, raw)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		codes = append(codes, FormatBackupCode(raw))
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = internal.RandomInt
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves, e.g. "ABCDE-FGHJK".
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash binds a canonical code to its account so equal codes on
// two accounts never share a digest.
func BackupCodeHash(accountID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(accountID)+1+len(canonicalCode))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func normalizeBackupCodeDeps(deps *BackupCodeDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, func() map[string]string) {}
	}
}
