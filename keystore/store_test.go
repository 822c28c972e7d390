package keystore

import (
	"bytes"
	"testing"
)

func newTestKey(t *testing.T, did, label string, kt KeyType) *StoredKey {
	t.Helper()
	kp, err := GenerateKeypair(kt)
	if err != nil {
		t.Fatalf("GenerateKeypair(%s): %v", kt, err)
	}
	return &StoredKey{
		DID:        did,
		KeyType:    kt,
		PublicKey:  kp.PublicBytes(),
		PrivateKey: kp.PrivateBytes(),
		Label:      label,
	}
}

func TestStoreInsertDuplicate(t *testing.T) {
	s := NewStore()
	k := newTestKey(t, "did:key:zA", "a", Ed25519)
	if err := s.Insert(k); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert(k); err == nil {
		t.Fatal("expected duplicate_did error")
	}
}

func TestStoreSetDefaultUnknown(t *testing.T) {
	s := NewStore()
	if err := s.SetDefault("did:key:zMissing"); err == nil {
		t.Fatal("expected error for unknown default")
	}
}

func TestStoreRemoveClearsDefault(t *testing.T) {
	s := NewStore()
	k := newTestKey(t, "did:key:zA", "a", Ed25519)
	_ = s.Insert(k)
	_ = s.SetDefault(k.DID)

	if !s.Remove(k.DID) {
		t.Fatal("expected Remove to report success")
	}
	if did, ok := s.Default(); ok || did != "" {
		t.Fatalf("expected default cleared, got %q", did)
	}
}

func TestStoreRelabelUniqueness(t *testing.T) {
	s := NewStore()
	a := newTestKey(t, "did:key:zA", "a", Ed25519)
	b := newTestKey(t, "did:key:zB", "b", Ed25519)
	_ = s.Insert(a)
	_ = s.Insert(b)

	if err := s.Relabel(b.DID, "a"); err == nil {
		t.Fatal("expected duplicate label error")
	}
	if err := s.Relabel(b.DID, "bb"); err != nil {
		t.Fatalf("relabel: %v", err)
	}
	if got, ok := s.GetByLabel("bb"); !ok || got.DID != b.DID {
		t.Fatal("relabel did not update label index")
	}
}

func TestStoreListStableOrder(t *testing.T) {
	s := NewStore()
	dids := []string{"did:key:zA", "did:key:zB", "did:key:zC"}
	for _, d := range dids {
		_ = s.Insert(newTestKey(t, d, "", Ed25519))
	}
	list := s.List()
	if len(list) != len(dids) {
		t.Fatalf("expected %d entries, got %d", len(dids), len(list))
	}
	for i, d := range dids {
		if list[i].DID != d {
			t.Fatalf("entry %d: got %q want %q", i, list[i].DID, d)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore()
	e := newTestKey(t, "did:key:zEd", "ed", Ed25519)
	p := newTestKey(t, "did:key:zP2", "p2", P256)
	k := newTestKey(t, "did:key:zSecp", "secp", Secp256k1)
	for _, key := range []*StoredKey{e, p, k} {
		if err := s.Insert(key); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := s.SetDefault(p.DID); err != nil {
		t.Fatalf("set default: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, key := range []*StoredKey{e, p, k} {
		got, ok := loaded.Get(key.DID)
		if !ok {
			t.Fatalf("missing key %s after round-trip", key.DID)
		}
		if !bytes.Equal(got.PublicKey, key.PublicKey) || !bytes.Equal(got.PrivateKey, key.PrivateKey) {
			t.Fatalf("key material mismatch for %s", key.DID)
		}
		if got.Label != key.Label || got.KeyType != key.KeyType {
			t.Fatalf("metadata mismatch for %s", key.DID)
		}
	}
	if did, ok := loaded.Default(); !ok || did != p.DID {
		t.Fatalf("expected default %s, got %q", p.DID, did)
	}
}

func TestLoadAbsentSourceIsEmptyStore(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatalf("load nil source: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("expected empty store")
	}
}
