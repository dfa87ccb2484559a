package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vigilsec/vigil/pkg/types"
)

// SecretsManager seals and opens credential material with AES-256-GCM.
// The controller holds exactly one instance; nothing in the store is
// readable without its key.
type SecretsManager struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSecretsManager creates a new secrets manager with the given encryption key.
// The key must be 32 bytes for AES-256-GCM.
func NewSecretsManager(key []byte) (*SecretsManager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &SecretsManager{
		encryptionKey: key,
	}, nil
}

// NewSecretsManagerFromPassword creates a secrets manager using a password.
// The password is hashed with SHA-256 to derive the encryption key.
func NewSecretsManagerFromPassword(password string) (*SecretsManager, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}

	hash := sha256.Sum256([]byte(password))
	return NewSecretsManager(hash[:])
}

// Seal encrypts plaintext using AES-256-GCM and returns the ciphertext
// with the nonce prepended.
func (sm *SecretsManager) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot seal empty data")
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Open decrypts data sealed with Seal. It expects the nonce prepended
// to the ciphertext.
func (sm *SecretsManager) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot open empty data")
	}

	block, err := aes.NewCipher(sm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}

	return plaintext, nil
}

// SealCredential encrypts the secret fields of a credential in place.
// Empty fields stay empty.
func (sm *SecretsManager) SealCredential(cred *types.Credential) error {
	var err error
	if cred.Secret, err = sm.sealField(cred.Secret, cred.ID); err != nil {
		return err
	}
	if cred.PrivateKey, err = sm.sealField(cred.PrivateKey, cred.ID); err != nil {
		return err
	}
	if cred.Community, err = sm.sealField(cred.Community, cred.ID); err != nil {
		return err
	}
	if cred.PrivacyPassword, err = sm.sealField(cred.PrivacyPassword, cred.ID); err != nil {
		return err
	}
	return nil
}

func (sm *SecretsManager) sealField(plain []byte, id string) ([]byte, error) {
	if len(plain) == 0 {
		return plain, nil
	}
	sealed, err := sm.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credential %s: %w", id, err)
	}
	Zeroize(plain)
	return sealed, nil
}

// OpenCredential returns a copy of the credential with its secret
// fields decrypted. The caller must Zeroize the copy's fields as soon
// as the material has been handed to the scanner.
func (sm *SecretsManager) OpenCredential(cred *types.Credential) (*types.Credential, error) {
	out := *cred
	var err error
	if out.Secret, err = sm.openField(cred.Secret, cred.ID); err != nil {
		return nil, err
	}
	if out.PrivateKey, err = sm.openField(cred.PrivateKey, cred.ID); err != nil {
		return nil, err
	}
	if out.Community, err = sm.openField(cred.Community, cred.ID); err != nil {
		return nil, err
	}
	if out.PrivacyPassword, err = sm.openField(cred.PrivacyPassword, cred.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (sm *SecretsManager) openField(sealed []byte, id string) ([]byte, error) {
	if len(sealed) == 0 {
		return sealed, nil
	}
	plain, err := sm.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential %s: %w", id, err)
	}
	return plain, nil
}

// ZeroizeCredential wipes the secret fields of a decrypted credential.
func ZeroizeCredential(cred *types.Credential) {
	Zeroize(cred.Secret)
	Zeroize(cred.PrivateKey)
	Zeroize(cred.Community)
	Zeroize(cred.PrivacyPassword)
}

// Zeroize overwrites a buffer so decrypted key material does not
// linger in memory longer than needed.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DeriveKey derives a 32-byte encryption key from an installation
// identity string.
func DeriveKey(id string) []byte {
	hash := sha256.Sum256([]byte(id))
	return hash[:]
}

// LoadOrCreateKeyFile returns the encryption key stored at path,
// minting a fresh random one on first use. The file is owner-only;
// losing it makes every sealed credential unreadable.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("key file %s holds %d bytes, want 32", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key = make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}
