// Package crypto provides the symmetric at-rest encryption used for the
// admin-configured Bilibili cookie.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	nonceSize  = 12
	keySize    = 32
	iterations = 10000
)

// Encrypt seals plaintext with a key derived from passphrase and returns a
// self-contained base64 token (salt || nonce || ciphertext).
func Encrypt(plaintext string, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("empty passphrase")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	packed := make([]byte, 0, saltSize+nonceSize+len(sealed))
	packed = append(packed, salt...)
	packed = append(packed, nonce...)
	packed = append(packed, sealed...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt reverses Encrypt. It fails on a wrong passphrase or a tampered
// token.
func Decrypt(token string, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("empty passphrase")
	}
	packed, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", err
	}
	if len(packed) < saltSize+nonceSize {
		return "", errors.New("ciphertext too short")
	}
	salt := packed[:saltSize]
	nonce := packed[saltSize : saltSize+nonceSize]
	sealed := packed[saltSize+nonceSize:]

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
