package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMEncryptor_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt([]byte("super secret value"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, cipherPrefixV1))

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super secret value", string(plaintext))
}

func TestAESGCMEncryptor_DistinctCiphertextsPerCall(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	a, err := enc.Encrypt([]byte("value"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("value"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "random nonce must make repeated encryptions differ")
}

func TestAESGCMEncryptor_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewAESGCMEncryptor([]byte("too-short"))
	require.Error(t, err)
}

func TestAESGCMEncryptor_DecryptRejectsUnknownPrefix(t *testing.T) {
	enc, err := NewAESGCMEncryptor(make([]byte, 32))
	require.NoError(t, err)

	_, err = enc.Decrypt("garbage")
	require.Error(t, err)
}

func TestAESGCMEncryptor_DecryptReadsNoopCiphertext(t *testing.T) {
	enc, err := NewAESGCMEncryptor(make([]byte, 32))
	require.NoError(t, err)

	noop := NoopEncryptor{}
	ciphertext, err := noop.Encrypt([]byte("legacy value"))
	require.NoError(t, err)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "legacy value", string(plaintext))
}

func TestNoopEncryptor_RoundTrip(t *testing.T) {
	enc := NoopEncryptor{}
	ciphertext, err := enc.Encrypt([]byte("plain"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, noopPrefix))

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(plaintext))
}

func TestNoopEncryptor_RejectsNonNoopCiphertext(t *testing.T) {
	enc := NoopEncryptor{}
	_, err := enc.Decrypt(cipherPrefixV1 + "abc")
	require.Error(t, err)
}

func TestNewEncryptor_EmptyKeyFallsBackToNoop(t *testing.T) {
	enc := NewEncryptor("", nil)
	_, ok := enc.(NoopEncryptor)
	assert.True(t, ok)
}

func TestNewEncryptor_HexKeyDecodesDirectly(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	hexKey := hex.EncodeToString(key)

	enc := NewEncryptor(hexKey, nil)
	_, ok := enc.(*AESGCMEncryptor)
	require.True(t, ok)

	ciphertext, err := enc.Encrypt([]byte("value"))
	require.NoError(t, err)
	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "value", string(plaintext))
}

func TestNewEncryptor_NonHexStringIsHashedToAKey(t *testing.T) {
	enc := NewEncryptor("a passphrase that is not hex", nil)
	_, ok := enc.(*AESGCMEncryptor)
	require.True(t, ok)

	ciphertext, err := enc.Encrypt([]byte("value"))
	require.NoError(t, err)
	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "value", string(plaintext))
}
