package secrets

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "age.key")

	enc, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("EnsureKeyFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %o, want 600", info.Mode().Perm())
	}

	// A second call loads the same identity instead of rotating it.
	enc2, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("second EnsureKeyFile: %v", err)
	}
	sealed, err := enc.Encrypt([]byte("cross-load check"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := enc2.Decrypt(sealed)
	if err != nil {
		t.Fatalf("reloaded identity cannot decrypt: %v", err)
	}
	if string(plain) != "cross-load check" {
		t.Errorf("plaintext = %q", plain)
	}
}

func TestNewAgeEncryptorSkipsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "age.key")
	id, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "#") {
		t.Fatalf("key file missing comment header: %q", data)
	}
	loaded, err := NewAgeEncryptor(path)
	if err != nil {
		t.Fatalf("NewAgeEncryptor: %v", err)
	}
	sealed, err := id.Encrypt([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loaded.Decrypt(sealed); err != nil {
		t.Errorf("parsed identity differs from written one: %v", err)
	}
}

func TestNewAgeEncryptorRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewAgeEncryptor(filepath.Join(dir, "missing.key")); err == nil {
		t.Error("missing key file accepted")
	}

	empty := filepath.Join(dir, "empty.key")
	if err := os.WriteFile(empty, []byte("# only comments\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAgeEncryptor(empty); err == nil {
		t.Error("key file without identity accepted")
	}

	garbage := filepath.Join(dir, "garbage.key")
	if err := os.WriteFile(garbage, []byte("not-an-identity\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAgeEncryptor(garbage); err == nil {
		t.Error("garbage identity accepted")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEphemeralEncryptor()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("the signing secret")
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("ciphertext contains the plaintext")
	}

	plain, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(plain, plaintext) {
		t.Errorf("round trip = %q", plain)
	}

	// A different identity cannot open it.
	other, err := NewEphemeralEncryptor()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("foreign identity decrypted the secret")
	}
}

func TestSigningSecretLifecycle(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "age.key")
	secretPath := filepath.Join(dir, "hmac.age")

	enc, err := EnsureKeyFile(keyPath)
	if err != nil {
		t.Fatal(err)
	}

	secret, err := CreateSigningSecret(secretPath, enc)
	if err != nil {
		t.Fatalf("CreateSigningSecret: %v", err)
	}
	if len(secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(secret))
	}

	// Creation refuses to overwrite an existing secret.
	if _, err := CreateSigningSecret(secretPath, enc); err == nil {
		t.Error("existing secret file overwritten")
	}

	loaded, err := LoadSigningSecret(secretPath, enc)
	if err != nil {
		t.Fatalf("LoadSigningSecret: %v", err)
	}
	if !bytes.Equal(loaded, secret) {
		t.Error("loaded secret differs from created one")
	}

	// The file on disk is sealed, not the raw secret.
	raw, err := os.ReadFile(secretPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, secret) {
		t.Error("secret stored in the clear")
	}
}
