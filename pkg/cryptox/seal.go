package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeySize is the AES-256 key length used by Sealer.
const KeySize = 32

// Argon2id parameters for deriving a sealing key from a passphrase. Tuned for
// an interactive client unlocking its store once per process.
const (
	kdfTime    = 2
	kdfMemory  = 32 * 1024
	kdfThreads = 2
)

// DefaultSalt is used when the caller has no per-installation salt. Stores
// that can persist one (the file store does) should prefer a random salt.
var DefaultSalt = []byte("swellwatch.securestore.v1")

var (
	ErrKeySize       = errors.New("cryptox: sealing key must be 32 bytes")
	ErrCiphertext    = errors.New("cryptox: ciphertext too short")
	ErrOpen          = errors.New("cryptox: unable to open sealed value")
	ErrEmptyPassword = errors.New("cryptox: empty passphrase")
)

// Sealer encrypts small secrets at rest with AES-256-GCM.
//
// Sealed output is [nonce][ciphertext+tag]. The associated data passed to Seal
// must be passed to Open unchanged; stores use the slot key so a sealed value
// copied into another slot fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer around a raw 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create gcm: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// NewPassphraseSealer derives the sealing key from passphrase and salt with
// Argon2id.
func NewPassphraseSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassword
	}
	return NewSealer(DeriveKey(passphrase, salt))
}

// DeriveKey stretches passphrase into a KeySize key.
func DeriveKey(passphrase string, salt []byte) []byte {
	if len(salt) == 0 {
		salt = DefaultSalt
	}
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, KeySize)
}

// NewSalt returns n random bytes for use with DeriveKey.
func NewSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptox: generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext bound to aad.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. Tampered data, a wrong key or a different aad all
// surface as ErrOpen.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrCiphertext
	}

	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
