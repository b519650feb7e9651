package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize AES-256 密钥长度
	KeySize = 32
	// IVSize GCM nonce 长度
	IVSize = 16
	// TagSize GCM 认证标签长度
	TagSize = 16
)

var (
	ErrInvalidKey = errors.New("vault: encryption key must be 32 bytes")
	// ErrDecryption 解密失败（格式损坏或标签校验不通过），永不返回部分明文
	ErrDecryption = errors.New("vault: decryption failed")
)

// Vault 交易所凭证的对称加密存储
// 密文格式: ivHex:tagHex:dataHex
type Vault struct {
	key []byte
}

// New 创建 Vault，key 为 hex 编码的 32 字节密钥
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

// Encrypt 加密明文，返回 iv:tag:data 三段 hex
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return "", fmt.Errorf("vault: create gcm: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err = io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	// Seal 输出为 密文||tag，拆开按 iv:tag:data 存储
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	data := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(data), nil
}

// Decrypt 解密 iv:tag:data 格式的密文
// 任何格式异常或标签不匹配都返回 ErrDecryption
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	// data 段允许为空：空明文加密后只有 iv 和 tag
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", ErrDecryption
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", ErrDecryption
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != TagSize {
		return "", ErrDecryption
	}
	data, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryption
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrDecryption
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return "", ErrDecryption
	}

	plaintext, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}
