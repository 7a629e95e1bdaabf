package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Vault seals small secrets (the session API credential) in memory using
// AES-256-GCM with an Argon2id-derived key. The plaintext credential only
// exists transiently, when a dispatch run opens it.
type Vault struct {
	key [32]byte
}

// Sealed is an encrypted secret together with its nonce.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
}

// New derives an AES-256 key from the passphrase via Argon2id. An empty
// passphrase gets a random one, making the vault key unique per process.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate passphrase: %w", err)
		}
		passphrase = hex.EncodeToString(b)
	}

	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)
	return v, nil
}

// Seal encrypts the secret with a random nonce.
func (v *Vault) Seal(secret []byte) (*Sealed, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &Sealed{
		Ciphertext: gcm.Seal(nil, nonce, secret, nil),
		Nonce:      nonce,
	}, nil
}

// Open decrypts a sealed secret.
func (v *Vault) Open(s *Sealed) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	secret, err := gcm.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed secret: %w", err)
	}
	return secret, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
