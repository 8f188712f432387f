// Package crypto implements the symmetric message-body cipher shared
// with the browser client: the OpenSSL "Salted__" envelope with
// MD5-based EVP key derivation and AES-256-CBC, base64 encoded.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// Placeholder replaces message content that could not be decrypted.
const Placeholder = "[unable to decrypt]"

const saltedPrefix = "Salted__"

var errMalformed = errors.New("malformed ciphertext")

// Cipher en/decrypts message bodies with a shared static secret.
type Cipher struct {
	secret []byte
}

// New creates a cipher for the given shared secret.
func New(secret string) *Cipher {
	return &Cipher{secret: []byte(secret)}
}

// Decrypt returns the plaintext for a base64 ciphertext. Any failure
// (bad base64, missing envelope, padding mismatch) yields Placeholder;
// it never returns an error because a single undecryptable message must
// not break the thread (plaintext passthrough is not attempted, the
// server only ever stores ciphertext).
func (c *Cipher) Decrypt(ciphertext string) string {
	plain, err := c.decrypt(ciphertext)
	if err != nil {
		return Placeholder
	}
	return plain
}

func (c *Cipher) decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	if len(raw) < len(saltedPrefix)+8 || string(raw[:len(saltedPrefix)]) != saltedPrefix {
		return "", errMalformed
	}
	salt := raw[len(saltedPrefix) : len(saltedPrefix)+8]
	body := raw[len(saltedPrefix)+8:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", errMalformed
	}

	key, iv := c.deriveKeyIV(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = stripPadding(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Encrypt produces a base64 "Salted__" envelope for the plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key, iv := c.deriveKeyIV(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padded := applyPadding([]byte(plaintext))
	out := make([]byte, 0, len(saltedPrefix)+8+len(padded))
	out = append(out, saltedPrefix...)
	out = append(out, salt...)

	body := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, padded)
	out = append(out, body...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// deriveKeyIV is EVP_BytesToKey with MD5 and one iteration, producing a
// 32-byte key and 16-byte IV. This matches what CryptoJS does when
// passed a passphrase instead of a raw key.
func (c *Cipher) deriveKeyIV(salt []byte) (key, iv []byte) {
	var derived []byte
	var prev []byte
	for len(derived) < 48 {
		h := md5.New()
		h.Write(prev)
		h.Write(c.secret)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:32], derived[32:48]
}

func applyPadding(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func stripPadding(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errMalformed
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errMalformed
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errMalformed
		}
	}
	return b[:len(b)-n], nil
}
