package securestore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltFile = ".salt"
	keyFile  = ".key"
	nonceLen = 24
)

// FileStore keeps one sealed file per key inside a private directory.
// Values are encrypted with NaCl secretbox. The key is derived with scrypt
// from a passphrase, or generated once and kept next to the data (0600) when
// no passphrase is configured.
type FileStore struct {
	dir string
	key [32]byte
	mu  sync.Mutex
}

// NewFileStore opens (creating if needed) a store rooted at dir.
func NewFileStore(dir, passphrase string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	fs := &FileStore{dir: dir}
	if passphrase == "" {
		raw, err := readOrCreate(filepath.Join(dir, keyFile), 32)
		if err != nil {
			return nil, err
		}
		copy(fs.key[:], raw)
		return fs, nil
	}
	salt, err := readOrCreate(filepath.Join(dir, saltFile), 16)
	if err != nil {
		return nil, err
	}
	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive store key: %w", err)
	}
	copy(fs.key[:], derived)
	return fs, nil
}

func readOrCreate(path string, n int) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) == n {
		return b, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	b = make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	if err := writeAtomic(path, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, key+".sealed")
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sealed, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(sealed) < nonceLen {
		return nil, fmt.Errorf("%w: sealed value for %q is truncated", ErrCorrupt, key)
	}
	var nonce [nonceLen]byte
	copy(nonce[:], sealed[:nonceLen])
	out, ok := secretbox.Open(nil, sealed[nonceLen:], &nonce, &f.key)
	if !ok {
		return nil, fmt.Errorf("%w: sealed value for %q cannot be opened", ErrCorrupt, key)
	}
	return out, nil
}

func (f *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], value, &nonce, &f.key)
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(f.path(key), sealed)
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
