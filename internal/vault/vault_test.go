package vault

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32) // 32 字节 hex 密钥

func TestNewKeyValidation(t *testing.T) {
	_, err := New(testKey)
	require.NoError(t, err)

	// 长度不足
	_, err = New("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	// 非 hex
	_, err = New(strings.Repeat("zz", 32))
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{
		"bg_api_key_123456",
		"",
		"含中文的口令 with spaces",
		strings.Repeat("x", 4096),
	} {
		ct, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		// 三段 hex 格式
		parts := strings.Split(ct, ":")
		require.Len(t, parts, 3)
		assert.Len(t, parts[0], IVSize*2)
		assert.Len(t, parts[1], TagSize*2)

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	a, err := v.Encrypt("secret")
	require.NoError(t, err)
	b, err := v.Encrypt("secret")
	require.NoError(t, err)

	// 每次随机 iv，密文不应相同
	assert.NotEqual(t, a, b)
}

func TestDecryptFailsClosed(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	ct, err := v.Encrypt("api-secret-material")
	require.NoError(t, err)

	// 翻转密文任意一个字节都必须失败
	parts := strings.Split(ct, ":")
	data, err := hex.DecodeString(parts[2])
	require.NoError(t, err)
	for i := range data {
		tampered := make([]byte, len(data))
		copy(tampered, data)
		tampered[i] ^= 0x01
		bad := parts[0] + ":" + parts[1] + ":" + hex.EncodeToString(tampered)
		_, err := v.Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecryption, "byte %d", i)
	}

	// 篡改标签
	tag, err := hex.DecodeString(parts[1])
	require.NoError(t, err)
	tag[0] ^= 0x01
	_, err = v.Decrypt(parts[0] + ":" + hex.EncodeToString(tag) + ":" + parts[2])
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptMalformedFormat(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	for _, bad := range []string{
		"",
		"nothex",
		"aa:bb",
		"aa:bb:cc:dd",
		"::",
		"zz:bb:cc",
	} {
		_, err := v.Decrypt(bad)
		assert.ErrorIs(t, err, ErrDecryption, "input %q", bad)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	v1, err := New(testKey)
	require.NoError(t, err)
	v2, err := New(strings.Repeat("cd", 32))
	require.NoError(t, err)

	ct, err := v1.Encrypt("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(ct)
	assert.ErrorIs(t, err, ErrDecryption)
}
