// Package crypto seals session records at rest with AES-256-GCM.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// envelopePrefix 标记已加密的记录，便于与明文记录区分
var envelopePrefix = []byte("tg1:")

var (
	// ErrInvalidKeySize 密钥长度无效
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes (256 bits)")
	// ErrInvalidCiphertext 密文格式无效
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short or malformed")
	// ErrDecryptionFailed 解密失败（密钥错误或数据被篡改）
	ErrDecryptionFailed = errors.New("decryption failed: authentication failed")
	// ErrNotSealed 记录不是加密格式
	ErrNotSealed = errors.New("payload is not sealed")
)

// Sealer AES-256-GCM 封装
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer 创建 Sealer，key 必须为 32 字节
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal 加密明文，输出格式：tg1:base64(nonce + ciphertext + tag)
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, len(envelopePrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, envelopePrefix)
	base64.StdEncoding.Encode(out[len(envelopePrefix):], sealed)
	return out, nil
}

// Open 解密 Seal 的输出
func (s *Sealer) Open(envelope []byte) ([]byte, error) {
	if !IsSealed(envelope) {
		return nil, ErrNotSealed
	}
	body := envelope[len(envelopePrefix):]
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(decoded, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	decoded = decoded[:n]

	nonceSize := s.aead.NonceSize()
	if len(decoded) < nonceSize+s.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, encrypted := decoded[:nonceSize], decoded[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// IsSealed reports whether payload carries the envelope prefix.
func IsSealed(payload []byte) bool {
	return bytes.HasPrefix(payload, envelopePrefix)
}
