// Package credentials stores salelink secrets in
// ~/.salelink/credentials.yaml, AES-GCM encrypted at rest.
//
// The encryption key comes from SALELINK_ENCRYPTION_KEY, a passphrase in
// SALELINK_PASSPHRASE, or the system keyring, in that order.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsDir  = ".salelink"
	DefaultCredentialsFile = "credentials.yaml"
)

var (
	// ErrNoCredentials is returned when no credentials file exists.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrInvalidCredentials is returned when the stored file is malformed.
	ErrInvalidCredentials = errors.New("invalid credentials format")
	// ErrEncryptionFailed is returned when encryption or decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the secrets the engine needs at runtime.
type Credentials struct {
	DatabasePassword string    `yaml:"database_password,omitempty"`
	APIToken         string    `yaml:"api_token,omitempty"`
	RedisPassword    string    `yaml:"redis_password,omitempty"`
	AMQPURL          string    `yaml:"amqp_url,omitempty"`
	LastUpdated      time.Time `yaml:"last_updated"`
}

// Empty reports whether no secret is set.
func (c *Credentials) Empty() bool {
	return c.DatabasePassword == "" && c.APIToken == "" && c.RedisPassword == "" && c.AMQPURL == ""
}

// secrets lists the encrypted fields by name.
func (c *Credentials) secrets() map[string]*string {
	return map[string]*string{
		"database password": &c.DatabasePassword,
		"API token":         &c.APIToken,
		"redis password":    &c.RedisPassword,
		"AMQP URL":          &c.AMQPURL,
	}
}

// Store reads and writes the credentials file.
type Store struct {
	dir      string
	key      []byte
	provider KeyProvider
}

// NewStore opens the store in CredentialsDir using DefaultKeyProvider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	provider, err := DefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreAt(dir, provider)
}

// NewStoreAt opens a store in dir with an explicit key provider.
func NewStoreAt(dir string, provider KeyProvider) (*Store, error) {
	key, err := provider.Key()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{dir: dir, key: key, provider: provider}, nil
}

// CredentialsDir returns $SALELINK_CONFIG_DIR or ~/.salelink.
func CredentialsDir() (string, error) {
	if dir := os.Getenv("SALELINK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, DefaultCredentialsFile)
}

// KeyDescription names where the encryption key lives.
func (s *Store) KeyDescription() string {
	return s.provider.Description()
}

// Save encrypts and writes creds.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	stored := *creds
	stored.LastUpdated = time.Now().UTC()
	for name, field := range stored.secrets() {
		if *field == "" {
			continue
		}
		enc, err := s.encrypt(*field)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", name, err)
		}
		*field = enc
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored credentials.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	for name, field := range creds.secrets() {
		if *field == "" {
			continue
		}
		dec, err := s.decrypt(*field)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s: %w", name, err)
		}
		*field = dec
	}
	return &creds, nil
}

// Update loads the current credentials (if any), applies fn and saves.
func (s *Store) Update(fn func(*Credentials)) error {
	creds, err := s.Load()
	if errors.Is(err, ErrNoCredentials) {
		creds = &Credentials{}
	} else if err != nil {
		return err
	}
	fn(creds)
	return s.Save(creds)
}

// Delete removes the credentials file. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists reports whether a credentials file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// Mask hides all but the first and last four characters of a secret.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
