package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:"

var _ Store = &FileStore{}

// FileStore persists the token in a single 0600 file. When a key is set the
// token is sealed with secretbox before it is written.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  *[32]byte
}

// NewFileStore returns a store writing to path. key may be nil.
func NewFileStore(path string, key *[32]byte) *FileStore {
	return &FileStore{path: path, key: key}
}

// ParseKey decodes a base64 (std or url) 32 byte sealing key. Empty input yields nil.
func ParseKey(s string) (*[32]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return nil, fmt.Errorf("tokenstore: invalid key encoding: %w", err)
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("tokenstore: key must be 32 bytes, got %d", len(raw))
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}

func (f *FileStore) Save(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == "" {
		return f.clear()
	}
	value := token
	if f.key != nil {
		sealed, err := f.seal(token)
		if err != nil {
			return err
		}
		value = sealed
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileStore) Read(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	value := strings.TrimSpace(string(data))
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if f.key == nil {
		return "", fmt.Errorf("%w: token is sealed but no key is configured", ErrUnavailable)
	}
	return f.open(value)
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clear()
}

func (f *FileStore) clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FileStore) seal(token string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("tokenstore: failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, f.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

func (f *FileStore) open(value string) (string, error) {
	box, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(box) < 24+secretbox.Overhead {
		return "", fmt.Errorf("%w: corrupt sealed token", ErrUnavailable)
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, f.key)
	if !ok {
		return "", fmt.Errorf("%w: sealed token does not match key", ErrUnavailable)
	}
	return string(plain), nil
}
