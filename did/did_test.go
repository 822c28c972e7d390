package did

import (
	"context"
	"testing"

	"github.com/tap-labs/tap-go/keystore"
)

func TestKeyResolverEd25519(t *testing.T) {
	kp, err := keystore.GenerateKeypair(keystore.Ed25519)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	didStr, err := NewDID(keystore.Ed25519, kp.PublicBytes())
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}

	r := &KeyResolver{}
	doc, err := r.Resolve(context.Background(), didStr)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if doc.ID != didStr {
		t.Fatalf("doc.ID = %q, want %q", doc.ID, didStr)
	}
	if len(doc.Authentication) != 1 {
		t.Fatalf("expected one authentication method, got %d", len(doc.Authentication))
	}
	if len(doc.KeyAgreement) != 1 {
		t.Fatalf("expected a derived key-agreement method, got %d", len(doc.KeyAgreement))
	}
	km := doc.KeyAgreementMethods()
	if len(km) != 1 || km[0].Type != "X25519KeyAgreementKey2019" {
		t.Fatalf("unexpected key agreement method: %+v", km)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("document invariant violated: %v", err)
	}
}

func TestKeyResolverSecp256k1ReusesVerificationKey(t *testing.T) {
	kp, err := keystore.GenerateKeypair(keystore.Secp256k1)
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	didStr, _ := NewDID(keystore.Secp256k1, kp.PublicBytes())
	doc, err := (&KeyResolver{}).Resolve(context.Background(), didStr)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if doc.KeyAgreement[0] != doc.Authentication[0] {
		t.Fatal("expected secp256k1 key agreement to reuse the verification method")
	}
}

func TestPKHResolverEip155(t *testing.T) {
	didStr := "did:pkh:eip155:1:0xab16a96d359ec26a11e2c2b3d8f8b8942d5bfcdb"
	doc, err := (&PKHResolver{}).Resolve(context.Background(), didStr)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	vm, ok := doc.VerificationMethodByID(didStr + "#blockchainAccountId")
	if !ok {
		t.Fatal("expected blockchainAccountId verification method")
	}
	if vm.Type != "EcdsaSecp256k1RecoveryMethod2020" {
		t.Fatalf("unexpected type %q", vm.Type)
	}
	if len(doc.KeyAgreement) != 0 {
		t.Fatal("did:pkh must not carry a key-agreement method")
	}
}

func TestPKHResolverMalformed(t *testing.T) {
	if _, err := (&PKHResolver{}).Resolve(context.Background(), "did:pkh:eip155:onlytwoparts"); err == nil {
		t.Fatal("expected error for malformed did:pkh")
	}
}

func TestRegistryUnsupportedMethod(t *testing.T) {
	r := NewDefaultRegistry(nil)
	if _, err := r.Resolve(context.Background(), "did:web:example.com"); err == nil {
		t.Fatal("expected unsupported method error when no HTTP fetcher is registered")
	}
}
