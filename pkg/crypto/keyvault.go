package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

const (
	saltSize        = 16
	nonceSize       = 12
	keySize         = 32
	pbkdf2Iters     = 100000
	minMasterKeyLen = 32
	maxPlaintextLen = 1 << 20
)

// KeyVault encrypts and decrypts provider API keys at rest.
// Each encryption derives a fresh session key from the master secret via
// PBKDF2-HMAC-SHA256 with a random salt, then seals with AES-256-GCM.
// Wire format: base64(salt || nonce || ciphertext || tag).
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault creates a vault from the process-wide master secret.
// The secret must be at least 32 bytes.
func NewKeyVault(masterKey string) (*KeyVault, error) {
	if len(masterKey) < minMasterKeyLen {
		return nil, apperrors.Crypto(
			fmt.Sprintf("master encryption key must be at least %d bytes", minMasterKeyLen), nil)
	}
	return &KeyVault{masterKey: []byte(masterKey)}, nil
}

// Encrypt seals the plaintext and returns the opaque storage blob.
func (v *KeyVault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperrors.BadInput("plaintext must not be empty")
	}
	if len(plaintext) > maxPlaintextLen {
		return "", apperrors.BadInput("plaintext exceeds maximum size")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", apperrors.Crypto("failed to generate salt", err)
	}

	gcm, err := v.sessionCipher(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Crypto("failed to generate nonce", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, saltSize+nonceSize+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a storage blob produced by Encrypt.
func (v *KeyVault) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", apperrors.BadInput("ciphertext must not be empty")
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.Crypto("malformed credential blob", err)
	}
	if len(blob) < saltSize+nonceSize+16 {
		return "", apperrors.Crypto("truncated credential blob", nil)
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	sealed := blob[saltSize+nonceSize:]

	gcm, err := v.sessionCipher(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", apperrors.Crypto("failed to decrypt credential", err)
	}

	return string(plaintext), nil
}

func (v *KeyVault) sessionCipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(v.masterKey, salt, pbkdf2Iters, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Crypto("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, apperrors.Crypto("failed to create GCM", err)
	}

	return gcm, nil
}

// Preview returns the trailing-four-characters form shown in listings.
func Preview(plaintext string) string {
	if len(plaintext) <= 4 {
		return "…" + plaintext
	}
	return "…" + plaintext[len(plaintext)-4:]
}

// MaskedForm returns the first four and last four characters of the key.
func MaskedForm(plaintext string) string {
	if len(plaintext) <= 8 {
		return Preview(plaintext)
	}
	return plaintext[:4] + "…" + plaintext[len(plaintext)-4:]
}

// ValidateKeyFormat applies per-provider prefix and length rules before a
// credential is accepted for storage.
func ValidateKeyFormat(provider, plaintext string) (bool, string) {
	if len(plaintext) < 10 {
		return false, "API key is too short"
	}

	switch provider {
	case "openai":
		if !strings.HasPrefix(plaintext, "sk-") {
			return false, "OpenAI keys must begin with sk- or sk-proj-"
		}
	case "anthropic":
		if !strings.HasPrefix(plaintext, "sk-ant-") {
			return false, "Anthropic keys must begin with sk-ant-"
		}
	case "gemini", "azure_openai":
		if len(plaintext) < 20 {
			return false, "key must be at least 20 characters"
		}
	default:
		return false, fmt.Sprintf("unknown provider %q", provider)
	}

	return true, ""
}
