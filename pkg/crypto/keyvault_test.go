package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

const testMasterKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" // 32 bytes

func TestNewKeyVaultRejectsShortMasterKey(t *testing.T) {
	_, err := NewKeyVault("too-short")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeCrypto, apperrors.GetType(err))

	_, err = NewKeyVault(testMasterKey)
	require.NoError(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault, err := NewKeyVault(testMasterKey)
	require.NoError(t, err)

	for _, plaintext := range []string{
		"sk-abc12345",
		"sk-ant-REDACTED",
		strings.Repeat("x", 4096),
	} {
		blob, err := vault.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		decrypted, err := vault.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptProducesDistinctBlobs(t *testing.T) {
	vault, err := NewKeyVault(testMasterKey)
	require.NoError(t, err)

	first, err := vault.Encrypt("sk-abc12345")
	require.NoError(t, err)
	second, err := vault.Encrypt("sk-abc12345")
	require.NoError(t, err)

	// Fresh salt and nonce per call
	assert.NotEqual(t, first, second)
}

func TestEncryptRejectsEmptyPlaintext(t *testing.T) {
	vault, err := NewKeyVault(testMasterKey)
	require.NoError(t, err)

	_, err = vault.Encrypt("")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
}

func TestDecryptFailures(t *testing.T) {
	vault, err := NewKeyVault(testMasterKey)
	require.NoError(t, err)

	t.Run("empty blob", func(t *testing.T) {
		_, err := vault.Decrypt("")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := vault.Decrypt("!!!not-base64!!!")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeCrypto, apperrors.GetType(err))
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := vault.Decrypt("AAAA")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeCrypto, apperrors.GetType(err))
	})

	t.Run("tampered tag", func(t *testing.T) {
		blob, err := vault.Encrypt("sk-abc12345")
		require.NoError(t, err)

		raw := []byte(blob)
		if raw[len(raw)-5] == 'A' {
			raw[len(raw)-5] = 'B'
		} else {
			raw[len(raw)-5] = 'A'
		}
		_, err = vault.Decrypt(string(raw))
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrorTypeCrypto, apperrors.GetType(err))
	})

	t.Run("wrong master key", func(t *testing.T) {
		other, err := NewKeyVault("BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
		require.NoError(t, err)

		blob, err := vault.Encrypt("sk-abc12345")
		require.NoError(t, err)

		_, err = other.Decrypt(blob)
		require.Error(t, err)
	})
}

func TestPreviewAndMaskedForm(t *testing.T) {
	assert.Equal(t, "…2345", Preview("sk-abc12345"))
	assert.Equal(t, "sk-a…2345", MaskedForm("sk-abc12345"))
	assert.Equal(t, "…abc", Preview("abc"))
	assert.Equal(t, "…short", MaskedForm("short"))
}

func TestValidateKeyFormat(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		ok       bool
	}{
		{"openai sk prefix", "openai", "sk-abc12345", true},
		{"openai project key", "openai", "sk-proj-abc12345", true},
		{"openai bad prefix", "openai", "pk-abc12345", false},
		{"anthropic", "anthropic", "sk-ant-api03-xyz", true},
		{"anthropic bad prefix", "anthropic", "sk-abc12345", false},
		{"gemini long enough", "gemini", "AIzaSyA1234567890abcdef", true},
		{"gemini too short", "gemini", "AIzaSyA123456", false},
		{"azure long enough", "azure_openai", "0123456789abcdef0123", true},
		{"any key too short", "openai", "sk-short", false},
		{"unknown provider", "mistral", "whatever-key-value", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ValidateKeyFormat(tt.provider, tt.key)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
