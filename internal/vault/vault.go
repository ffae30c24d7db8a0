// Package vault stores per-credential API secrets encrypted at rest.
//
// Layout on disk (inside the data directory):
//   - .vault-key:       base64 of 32 random bytes, generated on first use.
//   - credentials.enc:  base64(nonce ‖ AES-256-GCM ciphertext) of a JSON
//     object mapping credential id -> secret string.
//
// The key file is never rotated automatically. Losing it makes previously
// stored secrets permanently unrecoverable; callers see that as ErrDecrypt,
// never as a silently missing secret.
//
// Every mutating call rewrites the whole container. The vault holds one
// short string per credential, so the rewrite stays cheap at the expected
// scale (tens of entries).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	keyFile  = ".vault-key"
	dataFile = "credentials.enc"

	nonceSize = 12
	keySize   = 32
)

// ErrDecrypt marks a failed decryption: tampered container, truncated
// payload, or the wrong key file. Distinct from a secret simply not being
// registered.
var ErrDecrypt = errors.New("vault: decrypt failed")

// ErrNotFound is returned by Get when no secret is registered under the id.
var ErrNotFound = errors.New("vault: secret not found")

// Vault encrypts and decrypts the secret container. Safe for concurrent
// use; mutations serialize on an internal lock.
type Vault struct {
	dir string
	key [keySize]byte

	mu sync.Mutex
}

// Open loads the vault in dir, generating and persisting a fresh random
// key on first use. The directory is created if missing.
func Open(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := &Vault{dir: dir}

	keyPath := filepath.Join(dir, keyFile)
	raw, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if decErr != nil {
			return nil, fmt.Errorf("%w: malformed key file: %v", ErrDecrypt, decErr)
		}
		if len(decoded) != keySize {
			return nil, fmt.Errorf("%w: key file holds %d bytes, want %d", ErrDecrypt, len(decoded), keySize)
		}
		copy(v.key[:], decoded)

	case os.IsNotExist(err):
		if _, rErr := rand.Read(v.key[:]); rErr != nil {
			return nil, fmt.Errorf("failed to generate vault key: %w", rErr)
		}
		encoded := base64.StdEncoding.EncodeToString(v.key[:])
		if wErr := os.WriteFile(keyPath, []byte(encoded), 0o600); wErr != nil {
			return nil, fmt.Errorf("failed to persist vault key: %w", wErr)
		}

	default:
		return nil, fmt.Errorf("failed to read vault key: %w", err)
	}

	return v, nil
}

// Register stores a secret under a newly generated credential id and
// returns that id. Metadata (display name, fingerprint) is the caller's
// concern; the vault only holds the secret.
func (v *Vault) Register(secret string) (string, error) {
	id := uuid.NewString()
	if err := v.Put(id, secret); err != nil {
		return "", err
	}
	return id, nil
}

// Put stores or replaces the secret for an existing credential id.
func (v *Vault) Put(id, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readContainer()
	if err != nil {
		return err
	}
	secrets[id] = secret
	return v.writeContainer(secrets)
}

// Get returns the secret for id, or ErrNotFound.
func (v *Vault) Get(id string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readContainer()
	if err != nil {
		return "", err
	}
	secret, ok := secrets[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return secret, nil
}

// Delete removes the secret for id. Removing an unknown id is a no-op.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.readContainer()
	if err != nil {
		return err
	}
	delete(secrets, id)
	return v.writeContainer(secrets)
}

// DeleteAll removes the whole secret container.
func (v *Vault) DeleteAll() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path := filepath.Join(v.dir, dataFile)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove secret container: %w", err)
	}
	return nil
}

// DataFile returns the path of the encrypted container, for callers that
// watch it for external changes.
func (v *Vault) DataFile() string {
	return filepath.Join(v.dir, dataFile)
}

func (v *Vault) readContainer() (map[string]string, error) {
	path := filepath.Join(v.dir, dataFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret container: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]string{}, nil
	}

	plaintext, err := v.decrypt(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(plaintext), &secrets); err != nil {
		return nil, fmt.Errorf("%w: container is not valid JSON: %v", ErrDecrypt, err)
	}
	return secrets, nil
}

func (v *Vault) writeContainer(secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secret container: %w", err)
	}

	encrypted, err := v.encrypt(string(plaintext))
	if err != nil {
		return err
	}

	path := filepath.Join(v.dir, dataFile)
	if err := os.WriteFile(path, []byte(encrypted), 0o600); err != nil {
		return fmt.Errorf("failed to write secret container: %w", err)
	}
	return nil
}

// encrypt seals plaintext with a fresh random nonce and returns
// base64(nonce ‖ ciphertext).
func (v *Vault) encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) decrypt(encoded string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}
	if len(combined) < nonceSize {
		return "", fmt.Errorf("%w: payload shorter than nonce", ErrDecrypt)
	}

	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return gcm, nil
}
