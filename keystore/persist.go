package keystore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tap-labs/tap-go"
)

// fileStoredKey is the persisted-key-store file's structural schema
// (section 6): base64url-without-padding key material and ISO-8601 UTC
// timestamps.
type fileStoredKey struct {
	DID        string            `json:"did"`
	KeyType    string            `json:"key_type"`
	PublicKey  string            `json:"public_key_base64"`
	PrivateKey string            `json:"private_key_base64"`
	Label      string            `json:"label"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

type fileStore struct {
	Keys       map[string]fileStoredKey `json:"keys"`
	DefaultDID string                   `json:"default_did,omitempty"`
}

var b64 = base64.RawURLEncoding

// Save writes the store's contents to sink as the structural JSON schema
// from section 6, key material base64url-encoded without padding.
func (s *Store) Save(sink io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := fileStore{Keys: make(map[string]fileStoredKey, len(s.keys)), DefaultDID: s.defaultDID}
	for _, did := range s.sortedDIDsForExport() {
		k := s.keys[did]
		out.Keys[did] = fileStoredKey{
			DID:        k.DID,
			KeyType:    string(k.KeyType),
			PublicKey:  b64.EncodeToString(k.PublicKey),
			PrivateKey: b64.EncodeToString(k.PrivateKey),
			Label:      k.Label,
			Metadata:   k.Metadata,
			CreatedAt:  k.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:  k.UpdatedAt.UTC().Format(time.RFC3339),
		}
	}

	enc := json.NewEncoder(sink)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return tap.NewStorageError("save", "encode failed", err)
	}
	return nil
}

// Load reconstructs a store from source. An absent source (io.EOF on the
// first read, or a caller passing a nil/empty reader) yields an empty
// store rather than an error.
func Load(source io.Reader) (*Store, error) {
	s := NewStore()
	if source == nil {
		return s, nil
	}

	var in fileStore
	if err := json.NewDecoder(source).Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		return nil, tap.NewStorageError("load", "decode failed", err)
	}

	// Insert in creation order (ties broken by DID) so List keeps its
	// creation-order guarantee for a loaded store.
	dids := make([]string, 0, len(in.Keys))
	for did := range in.Keys {
		dids = append(dids, did)
	}
	sort.Strings(dids)
	sort.SliceStable(dids, func(i, j int) bool { return in.Keys[dids[i]].CreatedAt < in.Keys[dids[j]].CreatedAt })
	for _, did := range dids {
		fk := in.Keys[did]
		pub, err := b64.DecodeString(fk.PublicKey)
		if err != nil {
			return nil, tap.NewStorageError("load", "invalid public_key_base64 for "+did, err)
		}
		priv, err := b64.DecodeString(fk.PrivateKey)
		if err != nil {
			return nil, tap.NewStorageError("load", "invalid private_key_base64 for "+did, err)
		}
		created, err := time.Parse(time.RFC3339, fk.CreatedAt)
		if err != nil {
			return nil, tap.NewStorageError("load", "invalid created_at for "+did, err)
		}
		updated, err := time.Parse(time.RFC3339, fk.UpdatedAt)
		if err != nil {
			return nil, tap.NewStorageError("load", "invalid updated_at for "+did, err)
		}
		if err := s.Insert(&StoredKey{
			DID:        fk.DID,
			KeyType:    KeyType(fk.KeyType),
			PublicKey:  pub,
			PrivateKey: priv,
			Label:      fk.Label,
			Metadata:   fk.Metadata,
			CreatedAt:  created,
			UpdatedAt:  updated,
		}); err != nil {
			return nil, err
		}
	}
	if in.DefaultDID != "" {
		if err := s.SetDefault(in.DefaultDID); err != nil {
			return nil, tap.NewStorageError("load", "default_did references unknown key", err)
		}
	}
	return s, nil
}

// SaveFile persists the store to path atomically via temp+rename.
func (s *Store) SaveFile(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".keystore-*.tmp")
	if err != nil {
		return tap.NewStorageError("save", "create temp file failed", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := s.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return tap.NewStorageError("save", "close temp file failed", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return tap.NewStorageError("save", "rename temp file failed", err)
	}
	return nil
}

// LoadFile loads a store from path. A missing file yields an empty store.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, tap.NewStorageError("load", "open file failed", err)
	}
	defer f.Close()
	return Load(f)
}
