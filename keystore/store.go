// Package keystore implements an in-memory, persistable mapping of DID to
// keypair, with labels and a designated default, plus the keypair
// generation and crypto primitives the envelope relies on.
package keystore

import (
	"sort"
	"sync"
	"time"

	"github.com/tap-labs/tap-go"
)

// StoredKey is one entry in the store, uniquely keyed by DID.
type StoredKey struct {
	DID        string
	KeyType    KeyType
	PublicKey  []byte
	PrivateKey []byte
	Label      string
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	keypair *Keypair // cached, not persisted directly
}

// Keypair returns (lazily reconstructing if necessary) the StoredKey's
// usable Keypair.
func (s *StoredKey) Keypair() (*Keypair, error) {
	if s.keypair != nil {
		return s.keypair, nil
	}
	kp, err := ImportKeypair(s.KeyType, s.PrivateKey)
	if err != nil {
		return nil, err
	}
	s.keypair = kp
	return kp, nil
}

// Store is the in-memory key store. All operations are effectively
// constant-time ignoring I/O; the mutex mediates a single writer or many
// readers, with short critical sections and no async work inside locks.
type Store struct {
	mu         sync.RWMutex
	keys       map[string]*StoredKey // by DID
	byLabel    map[string]string     // label -> DID
	order      []string              // DIDs in insertion order
	defaultDID string
}

// NewStore creates an empty key store.
func NewStore() *Store {
	return &Store{
		keys:    make(map[string]*StoredKey),
		byLabel: make(map[string]string),
	}
}

// Insert adds a new stored key. Fails with a *tap.StorageError wrapping
// "duplicate_did" if the DID is already present.
func (s *Store) Insert(key *StoredKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.DID]; exists {
		return tap.NewStorageError("insert", "duplicate_did: "+key.DID, nil)
	}
	if key.Label != "" {
		if _, exists := s.byLabel[key.Label]; exists {
			return tap.NewStorageError("insert", "duplicate_label: "+key.Label, nil)
		}
	}
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now

	s.keys[key.DID] = key
	if key.Label != "" {
		s.byLabel[key.Label] = key.DID
	}
	s.order = append(s.order, key.DID)
	return nil
}

// Get looks up a stored key by DID.
func (s *Store) Get(did string) (*StoredKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[did]
	return k, ok
}

// GetByLabel looks up a stored key by its label.
func (s *Store) GetByLabel(label string) (*StoredKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	did, ok := s.byLabel[label]
	if !ok {
		return nil, false
	}
	return s.keys[did], true
}

// SetDefault designates did as the store's default. Fails if did is absent.
func (s *Store) SetDefault(did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[did]; !exists {
		return tap.NewStorageError("set_default", "unknown_did: "+did, nil)
	}
	s.defaultDID = did
	return nil
}

// Default returns the designated default DID, if any.
func (s *Store) Default() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultDID, s.defaultDID != ""
}

// Remove deletes the stored key for did. If did was the default, the
// default is cleared. Returns false if did was not present.
func (s *Store) Remove(did string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.keys[did]
	if !exists {
		return false
	}
	delete(s.keys, did)
	if key.Label != "" {
		delete(s.byLabel, key.Label)
	}
	for i, d := range s.order {
		if d == did {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.defaultDID == did {
		s.defaultDID = ""
	}
	return true
}

// Relabel changes a stored key's label, enforcing label uniqueness.
func (s *Store) Relabel(did, newLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.keys[did]
	if !exists {
		return tap.NewStorageError("relabel", "unknown_did: "+did, nil)
	}
	if newLabel != "" {
		if owner, exists := s.byLabel[newLabel]; exists && owner != did {
			return tap.NewStorageError("relabel", "duplicate_label: "+newLabel, nil)
		}
	}
	if key.Label != "" {
		delete(s.byLabel, key.Label)
	}
	key.Label = newLabel
	key.UpdatedAt = time.Now().UTC()
	if newLabel != "" {
		s.byLabel[newLabel] = did
	}
	return nil
}

// ListEntry is a row of List's stable, creation-ordered summary.
type ListEntry struct {
	DID     string
	Label   string
	KeyType KeyType
}

// List returns every stored key's summary, in stable creation order.
func (s *Store) List() []ListEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ListEntry, 0, len(s.order))
	for _, did := range s.order {
		k := s.keys[did]
		out = append(out, ListEntry{DID: k.DID, Label: k.Label, KeyType: k.KeyType})
	}
	return out
}

// sortedDIDsForExport returns DIDs sorted for a deterministic save format,
// independent from the creation-order List() promises.
func (s *Store) sortedDIDsForExport() []string {
	out := make([]string, 0, len(s.keys))
	for did := range s.keys {
		out = append(out, did)
	}
	sort.Strings(out)
	return out
}
