package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrEncryption    = errors.New("encryption failed")
	ErrSSODecryption = errors.New("sso payload decryption failed")
)

// SSOPayload is the context the CRM injects into the embedded app.
type SSOPayload struct {
	LocationID string `json:"locationId"`
	UserID     string `json:"userId"`
	CompanyID  string `json:"companyId"`
	Timestamp  int64  `json:"timestamp"`
}

// SSOCodec encrypts and decrypts SSO payloads with AES-256-CBC.
// The wire format is base64url(iv[16] || ciphertext).
type SSOCodec struct {
	key []byte
}

func NewSSOCodec(secret string) *SSOCodec {
	sum := sha256.Sum256([]byte(secret))
	return &SSOCodec{key: sum[:]}
}

func (c *SSOCodec) Decrypt(encoded string) (*SSOPayload, error) {
	raw, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSODecryption, err)
	}

	if len(raw) < 2*aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad length %d", ErrSSODecryption, len(raw))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSODecryption, err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSODecryption, err)
	}

	var payload SSOPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSSODecryption, err)
	}
	if payload.LocationID == "" {
		return nil, fmt.Errorf("%w: missing locationId", ErrSSODecryption)
	}

	return &payload, nil
}

func (c *SSOCodec) Encrypt(payload *SSOPayload) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", ErrEncryption
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", ErrEncryption
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", ErrEncryption
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// decodeBase64 accepts padded or unpadded base64url and falls back to std base64.
func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty input")
	}
	trimmed := strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
