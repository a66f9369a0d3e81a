package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/taurusgroup/p2p-wager/pkg/taproot"
)

// storedKey is the on-disk form of the hidden key.
type storedKey struct {
	Nsec string `json:"nsec"`
	Npub string `json:"npub"`
}

// Store persists one hidden key in a JSON file readable only by its owner.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored key. It returns fs.ErrNotExist if none was saved yet.
func (s *Store) Load() (*KeyPair, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var stored storedKey
	if err = json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("identity: %s: %w", s.path, err)
	}
	sk, err := hex.DecodeString(stored.Nsec)
	if err != nil {
		return nil, fmt.Errorf("identity: %s: nsec: %w", s.path, err)
	}
	kp, err := KeyPairFromSecret(taproot.SecretKey(sk))
	if err != nil {
		return nil, err
	}
	if stored.Npub != "" && stored.Npub != hex.EncodeToString(kp.Public) {
		return nil, fmt.Errorf("identity: %s: stored public key does not match secret", s.path)
	}
	return kp, nil
}

// Save writes kp, replacing any previous key.
func (s *Store) Save(kp *KeyPair) error {
	data, err := json.Marshal(storedKey{
		Nsec: hex.EncodeToString(kp.Secret),
		Npub: hex.EncodeToString(kp.Public),
	})
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	return nil
}

// LoadOrCreate returns the stored key, generating and saving one on first use.
func (s *Store) LoadOrCreate(rand io.Reader) (*KeyPair, error) {
	kp, err := s.Load()
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if kp, err = GenerateKeyPair(rand); err != nil {
		return nil, err
	}
	if err = s.Save(kp); err != nil {
		return nil, err
	}
	return kp, nil
}
