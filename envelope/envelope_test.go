package envelope

import (
	"context"
	"testing"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/keystore"
)

type participant struct {
	did          string
	kid          string
	agreementKID string
	keypair      *keystore.Keypair
	doc          *did.Document
}

func newParticipant(t *testing.T, registry *did.Registry, kt keystore.KeyType) *participant {
	t.Helper()
	kp, err := keystore.GenerateKeypair(kt)
	if err != nil {
		t.Fatalf("GenerateKeypair(%s): %v", kt, err)
	}
	didStr, err := did.NewDID(kt, kp.PublicBytes())
	if err != nil {
		t.Fatalf("NewDID: %v", err)
	}
	doc, err := registry.Resolve(context.Background(), didStr)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", didStr, err)
	}
	agreementPub, err := kp.AgreementPublicBytes()
	if err != nil {
		t.Fatalf("AgreementPublicBytes: %v", err)
	}
	var agreementKID string
	for _, vm := range doc.KeyAgreementMethods() {
		if string(vm.PublicKeyMaterial) == string(agreementPub) {
			agreementKID = vm.ID
			break
		}
	}
	return &participant{
		did:          didStr,
		kid:          doc.VerificationMethod[0].ID,
		agreementKID: agreementKID,
		keypair:      kp,
		doc:          doc,
	}
}

func (p *participant) localKeys(kid string) (*keystore.Keypair, bool) {
	if kid == p.kid || kid == p.agreementKID {
		return p.keypair, true
	}
	return nil, false
}

func newMessage(t *testing.T, from string, to string) *tap.PlainMessage {
	t.Helper()
	msg, err := tap.NewMessage(from, tap.TypeBasicMessage, &tap.BasicMessage{Content: "hello"}, tap.MessageOptions{To: []string{to}})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestPackUnpackRoundTripSignedAuthEncrypted(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice := newParticipant(t, registry, keystore.Ed25519)
	bob := newParticipant(t, registry, keystore.Ed25519)

	msg := newMessage(t, alice.did, bob.did)

	packed, err := Pack(msg, PackOptions{
		Mode:          ModeSignedAuthEncrypted,
		SenderKID:     alice.kid,
		SenderKeypair: alice.keypair,
		Recipients:    bob.doc.KeyAgreementMethods(),
		ContentAlg:    ContentA256GCM,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, meta, err := Unpack(context.Background(), packed, registry, bob.localKeys)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !meta.Encrypted || !meta.Authenticated || !meta.Signed {
		t.Fatalf("expected encrypted+authenticated+signed metadata, got %+v", meta)
	}
	if meta.SignerKID != alice.kid {
		t.Fatalf("got signer kid %q, want %q", meta.SignerKID, alice.kid)
	}
	var body tap.BasicMessage
	if err := got.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Content != "hello" {
		t.Fatalf("got content %q, want hello", body.Content)
	}
}

func TestPackUnpackRoundTripAnonEncryptedXC20P(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice := newParticipant(t, registry, keystore.Secp256k1)
	bob := newParticipant(t, registry, keystore.Ed25519)

	msg := newMessage(t, alice.did, bob.did)

	packed, err := Pack(msg, PackOptions{
		Mode:       ModeAnonEncrypted,
		Recipients: bob.doc.KeyAgreementMethods(),
		ContentAlg: ContentXC20P,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, meta, err := Unpack(context.Background(), packed, registry, bob.localKeys)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !meta.Encrypted || meta.Authenticated || meta.Signed {
		t.Fatalf("expected encrypted-only metadata, got %+v", meta)
	}
	if got.From != alice.did {
		t.Fatalf("got from %q, want %q", got.From, alice.did)
	}
}

func TestUnpackRejectsTamperedCiphertext(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice := newParticipant(t, registry, keystore.Ed25519)
	bob := newParticipant(t, registry, keystore.Ed25519)

	msg := newMessage(t, alice.did, bob.did)
	packed, err := Pack(msg, PackOptions{
		Mode:          ModeAuthEncrypted,
		SenderKID:     alice.kid,
		SenderKeypair: alice.keypair,
		Recipients:    bob.doc.KeyAgreementMethods(),
		ContentAlg:    ContentA256GCM,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	tampered := make([]byte, len(packed))
	copy(tampered, packed)
	// Flip a byte inside the JSON body (away from structural characters) to
	// corrupt the ciphertext or tag without producing invalid JSON.
	for i := len(tampered) - 10; i < len(tampered)-2; i++ {
		if tampered[i] >= 'a' && tampered[i] <= 'z' {
			tampered[i] = tampered[i] ^ 0x01
			break
		}
	}

	if _, _, err := Unpack(context.Background(), tampered, registry, bob.localKeys); err == nil {
		t.Fatal("expected tamper detection to reject the corrupted envelope")
	}
}

func TestUnpackFailsForUnknownRecipient(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice := newParticipant(t, registry, keystore.Ed25519)
	bob := newParticipant(t, registry, keystore.Ed25519)
	stranger := newParticipant(t, registry, keystore.Ed25519)

	msg := newMessage(t, alice.did, bob.did)
	packed, err := Pack(msg, PackOptions{
		Mode:       ModeAnonEncrypted,
		Recipients: bob.doc.KeyAgreementMethods(),
		ContentAlg: ContentA256GCM,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if _, _, err := Unpack(context.Background(), packed, registry, stranger.localKeys); err == nil {
		t.Fatal("expected unpack to fail: stranger holds no matching recipient key")
	}
}

func TestSignedOnlyRoundTripVerifiesSignature(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice := newParticipant(t, registry, keystore.P256)
	bob := newParticipant(t, registry, keystore.P256)

	msg := newMessage(t, alice.did, bob.did)
	packed, err := Pack(msg, PackOptions{
		Mode:          ModeSigned,
		SenderKID:     alice.kid,
		SenderKeypair: alice.keypair,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	got, meta, err := Unpack(context.Background(), packed, registry, bob.localKeys)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if meta.Encrypted || !meta.Signed {
		t.Fatalf("expected signed-only metadata, got %+v", meta)
	}
	if got.ID != msg.ID {
		t.Fatalf("got id %q, want %q", got.ID, msg.ID)
	}
}
