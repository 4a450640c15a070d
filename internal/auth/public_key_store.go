package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PublicKeyStore holds the verification keys for CDP token signatures, keyed
// by the kid each token names. Keys load once at startup from PEM files; the
// store stays safe for concurrent reads afterwards.
type PublicKeyStore struct {
	keys map[string]crypto.PublicKey
	mu   sync.RWMutex
}

func NewPublicKeyStore() *PublicKeyStore {
	return &PublicKeyStore{keys: make(map[string]crypto.PublicKey)}
}

// LoadDirectory loads every .pem file in dir. The file name minus the
// extension becomes the key id.
func (s *PublicKeyStore) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read keys directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pem" {
			continue
		}
		kid := strings.TrimSuffix(entry.Name(), ".pem")
		if err := s.LoadKey(kid, filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("load key %s: %w", kid, err)
		}
	}
	return nil
}

// LoadKey loads one PEM public key file under the given key id.
func (s *PublicKeyStore) LoadKey(kid, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	key, err := parsePublicKey(data)
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}
	s.Add(kid, key)
	return nil
}

// Add registers a key directly.
func (s *PublicKeyStore) Add(kid string, key crypto.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = key
}

// Get returns the key registered under kid.
func (s *PublicKeyStore) Get(kid string) (crypto.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id: %s", kid)
	}
	return key, nil
}

// Single returns the only registered key when exactly one exists.
func (s *PublicKeyStore) Single() (crypto.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.keys) != 1 {
		return nil, false
	}
	for _, key := range s.keys {
		return key, true
	}
	return nil, false
}

// Len reports the number of registered keys.
func (s *PublicKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// KeyIDs returns the registered key ids.
func (s *PublicKeyStore) KeyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	return ids
}

// parsePublicKey decodes a PKIX PEM block into an RSA or ECDSA public key.
func parsePublicKey(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX key: %w", err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}
