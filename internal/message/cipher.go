package message

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"golang.org/x/crypto/sha3"
	"strings"
)

// Encryption selects how a serialized message is protected before framing.
type Encryption int

const (
	EncryptionNone Encryption = iota
	EncryptionAES
)

func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionAES:
		return "aes"
	default:
		return fmt.Sprintf("Encryption(%d)", int(e))
	}
}

// ParseEncryption maps a configuration value to an Encryption mode.
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return EncryptionNone, nil
	case "aes":
		return EncryptionAES, nil
	default:
		return 0, fmt.Errorf("unknown encryption mode %q", s)
	}
}

// Cipher transforms a whole serialized message.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
	Mode() Encryption
}

// NewCipher builds the Cipher for mode. The AES key is the SHA3-256 digest of seed.
func NewCipher(mode Encryption, seed string) (Cipher, error) {
	switch mode {
	case EncryptionNone:
		return plainCipher{}, nil
	case EncryptionAES:
		if seed == "" {
			return nil, errors.New("aes encryption requires a non-empty seed")
		}
		key := sha3.Sum256([]byte(seed))
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("creating aes block: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating gcm: %w", err)
		}
		return &aesCipher{aead: gcm}, nil
	default:
		return nil, fmt.Errorf("unsupported encryption mode %s", mode)
	}
}

type plainCipher struct{}

func (plainCipher) Encrypt(plain []byte) ([]byte, error) { return plain, nil }
func (plainCipher) Decrypt(data []byte) ([]byte, error)  { return data, nil }
func (plainCipher) Mode() Encryption                     { return EncryptionNone }

// aesCipher seals with a fresh random nonce and emits base64(nonce || ciphertext).
type aesCipher struct {
	aead cipher.AEAD
}

func (c *aesCipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

func (c *aesCipher) Decrypt(data []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	raw = raw[:n]
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

func (c *aesCipher) Mode() Encryption { return EncryptionAES }
