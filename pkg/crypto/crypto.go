// Package crypto holds the primitives every higher layer builds on: password hashing,
// authenticated encryption of stored secrets, HMAC signatures and random tokens.
//
// Secrets are always passed in by the caller. Nothing here reads the environment.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations applies to both password hashes and the master key derivation.
	KDFIterations = 100_000
	saltLen       = 16
	keyLen        = 32

	blobVersion = 0x01
)

// masterSalt is public. Every ciphertext under one master secret shares the derived key,
// so a leaked master secret means rotating it and re-encrypting, not re-salting.
var masterSalt = []byte("wpmcp/credential-vault/v1")

var (
	ErrMalformed  = errors.New("crypto: malformed ciphertext")
	ErrDecrypt    = errors.New("crypto: decryption failed")
	ErrEmptyInput = errors.New("crypto: empty secret")
)

// HashPassword returns base64(salt || pbkdf2-sha256(plaintext, salt)).
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	dk := pbkdf2.Key([]byte(plaintext), salt, KDFIterations, keyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, dk...)), nil
}

// VerifyPassword reports whether plaintext matches a HashPassword result.
// Malformed hashes verify as false.
func VerifyPassword(plaintext, encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != saltLen+keyLen {
		return false
	}
	dk := pbkdf2.Key([]byte(plaintext), raw[:saltLen], KDFIterations, keyLen, sha256.New)
	return subtle.ConstantTimeCompare(dk, raw[saltLen:]) == 1
}

// Cipher is AES-256-GCM keyed from a master secret.
// Safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(master string) (*Cipher, error) {
	if master == "" {
		return nil, ErrEmptyInput
	}
	key := pbkdf2.Key([]byte(master), masterSalt, KDFIterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: gcm}, nil
}

// Encrypt returns base64(0x01 || nonce || sealed). Each call draws a fresh 96-bit nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, blobVersion)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It never returns partial plaintext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformed
	}
	ns := c.aead.NonceSize()
	if len(raw) < 1+ns+c.aead.Overhead() || raw[0] != blobVersion {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[1:1+ns], raw[1+ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// SignHMAC returns hex(HMAC-SHA256(secret, data)).
func SignHMAC(data []byte, secret string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyHMAC compares in constant time.
func VerifyHMAC(data []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(data)
	return hmac.Equal(m.Sum(nil), want)
}

// RandomToken returns n random bytes as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MustRandomToken panics if the system random source fails.
func MustRandomToken(n int) string {
	s, err := RandomToken(n)
	if err != nil {
		panic(err)
	}
	return s
}

// SHA256Hex is used for lookups of high-entropy values such as API keys.
func SHA256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
