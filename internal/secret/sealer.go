// Package secret 负责设备配置密码的静态加密与设备令牌生成
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedPrefix = "xc1:"
	plainPrefix  = "plain:"

	// sealedVersion 作为 AAD 参与认证，篡改版本号会导致解密失败
	sealedVersion byte = 0x01
)

var (
	// ErrNoKey 密文存在但未配置密钥
	ErrNoKey = errors.New("secret: sealed value but no key configured")
	// ErrOpen 密文损坏或密钥不匹配
	ErrOpen = errors.New("secret: cannot open sealed value")
)

// Sealer 使用 XChaCha20-Poly1305 加解密短字符串。
// 密文布局: version(1) | nonce(24) | ciphertext+tag，整体 base64 后加 xc1: 前缀。
// 未配置密钥时以 plain: 前缀保存原文。
type Sealer struct {
	key  []byte
	rand io.Reader
}

// NewSealer keyB64 为 base64 编码的 32 字节密钥，空串表示不加密
func NewSealer(keyB64 string) (*Sealer, error) {
	s := &Sealer{rand: rand.Reader}
	keyB64 = strings.TrimSpace(keyB64)
	if keyB64 == "" {
		return s, nil
	}
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("secret: decode key: %w", err)
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	s.key = raw
	return s, nil
}

// Encrypting 是否配置了密钥
func (s *Sealer) Encrypting() bool { return s.key != nil }

// Seal 加密明文，空串保持为空
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if s.key == nil {
		return plainPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("secret: cipher: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = sealedVersion
	nonce := out[1:]
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return "", fmt.Errorf("secret: nonce: %w", err)
	}
	out = aead.Seal(out, nonce, []byte(plaintext), out[:1])
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open 解密。无前缀的值视为历史明文原样返回。
func (s *Sealer) Open(stored string) (string, error) {
	switch {
	case stored == "":
		return "", nil
	case strings.HasPrefix(stored, plainPrefix):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, plainPrefix))
		if err != nil {
			return "", ErrOpen
		}
		return string(b), nil
	case strings.HasPrefix(stored, sealedPrefix):
		if s.key == nil {
			return "", ErrNoKey
		}
		blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
		if err != nil || len(blob) < 1+chacha20poly1305.NonceSizeX || blob[0] != sealedVersion {
			return "", ErrOpen
		}
		aead, err := chacha20poly1305.NewX(s.key)
		if err != nil {
			return "", fmt.Errorf("secret: cipher: %w", err)
		}
		nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
		out, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
		if err != nil {
			return "", ErrOpen
		}
		return string(out), nil
	default:
		return stored, nil
	}
}

// NewDeviceToken 生成 64 位十六进制设备令牌（32 字节随机数）
func NewDeviceToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secret: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
