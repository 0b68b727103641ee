package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/crypto/hkdf"
)

const (
	totpPeriod      = 30
	totpSecretSize  = 32 // 256 bits
	backupCodeBytes = 6  // 12 hex chars, formatted XXXX-XXXX-XXXX
)

// TOTPManager handles TOTP secrets, provisioning QR codes, backup codes,
// and the authenticated encryption protecting them at rest.
type TOTPManager struct {
	encryptionKey []byte // 32-byte AES-256 key derived via HKDF
	issuer        string
}

// NewTOTPManager derives the encryption key from the application secret with
// HKDF-SHA256 rather than truncating or padding the secret directly.
func NewTOTPManager(appSecret, issuer string) (*TOTPManager, error) {
	if appSecret == "" {
		return nil, fmt.Errorf("encryption secret is required")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(appSecret), nil, []byte("taskhive/mfa-secret-encryption"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return &TOTPManager{
		encryptionKey: key,
		issuer:        issuer,
	}, nil
}

// GenerateSecret creates a new base32-encoded TOTP secret.
func (tm *TOTPManager) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: "user",
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// EncryptSecret encrypts a TOTP secret with AES-256-GCM. The nonce is
// prepended to the ciphertext so a single blob can be stored.
func (tm *TOTPManager) EncryptSecret(secret string) ([]byte, error) {
	return tm.seal([]byte(secret))
}

// DecryptSecret decrypts an encrypted TOTP secret. A decrypt failure is
// fatal to the calling operation, not silently swallowed.
func (tm *TOTPManager) DecryptSecret(encrypted []byte) (string, error) {
	plaintext, err := tm.open(encrypted)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateQRCode encodes the otpauth:// provisioning URI as a PNG wrapped in
// a data:image/png;base64 URI.
func (tm *TOTPManager) GenerateQRCode(secret, accountLabel string) (string, error) {
	provisioningURI := fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&period=%d&digits=6",
		url.PathEscape(tm.issuer), url.PathEscape(accountLabel),
		secret, url.QueryEscape(tm.issuer), totpPeriod,
	)

	qr, err := qrcode.New(provisioningURI, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage), nil
}

// VerifyToken validates a 6-digit TOTP code allowing ±window time steps of
// clock drift. Codes that are not exactly 6 digits are rejected up front.
func (tm *TOTPManager) VerifyToken(secret, code string, window uint) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != 6 || !isDigits(code) {
		return false, nil
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}

// GenerateBackupCodes returns count single-use recovery codes formatted as
// groups of 4 uppercase hex characters (e.g. A1B2-C3D4-E5F6).
func (tm *TOTPManager) GenerateBackupCodes(count int) ([]string, error) {
	if count < 1 || count > 50 {
		return nil, fmt.Errorf("backup code count must be between 1 and 50, got %d", count)
	}

	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hexCode := strings.ToUpper(hex.EncodeToString(raw))
		codes[i] = hexCode[0:4] + "-" + hexCode[4:8] + "-" + hexCode[8:12]
	}

	return codes, nil
}

// EncryptBackupCodes serializes the code list as JSON and encrypts it under
// the same scheme as the TOTP secret.
func (tm *TOTPManager) EncryptBackupCodes(codes []string) ([]byte, error) {
	serialized, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize backup codes: %w", err)
	}
	return tm.seal(serialized)
}

func (tm *TOTPManager) DecryptBackupCodes(encrypted []byte) ([]string, error) {
	plaintext, err := tm.open(encrypted)
	if err != nil {
		return nil, err
	}

	var codes []string
	if err := json.Unmarshal(plaintext, &codes); err != nil {
		return nil, fmt.Errorf("failed to deserialize backup codes: %w", err)
	}
	return codes, nil
}

// VerifyBackupCode checks code against the stored set, case-insensitively.
// On match the code is removed and the remainder re-encrypted; the caller
// must persist the returned blob to enforce at-most-one use. On no match the
// returned blob is nil and the stored set must not be overwritten.
func (tm *TOTPManager) VerifyBackupCode(encrypted []byte, code string) (bool, []byte, error) {
	codes, err := tm.DecryptBackupCodes(encrypted)
	if err != nil {
		return false, nil, err
	}

	normalized := strings.ToUpper(strings.TrimSpace(code))
	matchIdx := -1
	for i, c := range codes {
		if strings.ToUpper(c) == normalized {
			matchIdx = i
			break
		}
	}
	if matchIdx < 0 {
		return false, nil, nil
	}

	remaining := append(codes[:matchIdx:matchIdx], codes[matchIdx+1:]...)
	reencrypted, err := tm.EncryptBackupCodes(remaining)
	if err != nil {
		return false, nil, err
	}

	return true, reencrypted, nil
}

func (tm *TOTPManager) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (tm *TOTPManager) open(encrypted []byte) ([]byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(encrypted) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
