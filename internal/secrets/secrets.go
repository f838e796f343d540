// Package secrets keeps the gateway's HMAC signing secret encrypted at rest
// with an age identity.
package secrets

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// AgeEncryptor wraps a single X25519 identity for symmetric-style use: the
// gateway both encrypts and decrypts with its own key file.
type AgeEncryptor struct {
	identity *age.X25519Identity
}

// NewAgeEncryptor loads an identity from a key file written by EnsureKeyFile.
func NewAgeEncryptor(keyPath string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age key: %w", err)
		}
		return &AgeEncryptor{identity: id}, nil
	}
	return nil, fmt.Errorf("no identity found in %s", keyPath)
}

// EnsureKeyFile loads the identity at path, generating and persisting a new
// one (0600) if the file does not exist.
func EnsureKeyFile(path string) (*AgeEncryptor, error) {
	if _, err := os.Stat(path); err == nil {
		return NewAgeEncryptor(path)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	content := "# toolgate age identity; do not share\n" + id.String() + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("write age key: %w", err)
	}
	return &AgeEncryptor{identity: id}, nil
}

// NewEphemeralEncryptor generates an in-memory identity. Anything encrypted
// with it is unreadable after process exit.
func NewEphemeralEncryptor() (*AgeEncryptor, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	return &AgeEncryptor{identity: id}, nil
}

// Encrypt seals plaintext to the encryptor's own recipient.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt opens ciphertext sealed by Encrypt.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age read: %w", err)
	}
	return plain, nil
}

// CreateSigningSecret generates a random 32-byte HMAC secret, seals it, and
// writes it to path. Fails if the file already exists.
func CreateSigningSecret(path string, enc *AgeEncryptor) ([]byte, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("secret file %s already exists", path)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	sealed, err := enc.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}

// LoadSigningSecret reads and unseals the HMAC secret at path.
func LoadSigningSecret(path string, enc *AgeEncryptor) ([]byte, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return enc.Decrypt(sealed)
}
