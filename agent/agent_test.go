package agent

import (
	"context"
	"testing"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/envelope"
	"github.com/tap-labs/tap-go/keystore"
)

func TestCreateGeneratesDidKeyIdentity(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	a, err := Create(Config{Nickname: "alice"}, registry)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.DID() == "" || a.KID() == "" || a.AgreementKID() == "" {
		t.Fatalf("expected a fully resolved identity, got did=%q kid=%q agreementKID=%q", a.DID(), a.KID(), a.AgreementKID())
	}
	if a.Nickname() != "alice" {
		t.Fatalf("got nickname %q, want alice", a.Nickname())
	}
}

func TestPackUnpackRoundTripBetweenAgents(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice, err := Create(Config{KeyType: keystore.Ed25519}, registry)
	if err != nil {
		t.Fatalf("Create alice: %v", err)
	}
	bob, err := Create(Config{KeyType: keystore.Ed25519}, registry)
	if err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	var beforePackCalls int
	alice.OnBeforePack(func(msg *tap.PlainMessage) { beforePackCalls++ })
	var afterUnpackCalls int
	bob.OnAfterUnpack(func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) { afterUnpackCalls++ })

	msg, err := alice.CreateMessage(tap.TypeBasicMessage, &tap.BasicMessage{Content: "ping"}, tap.MessageOptions{To: []string{bob.DID()}})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	ctx := context.Background()
	packed, err := alice.Pack(ctx, msg, envelope.ModeSignedAuthEncrypted, envelope.ContentA256GCM)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !msg.Sealed() {
		t.Fatal("expected Pack to seal the source message")
	}

	got, meta, err := bob.Unpack(ctx, packed, tap.TypeBasicMessage)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if meta.SignerKID != alice.KID() {
		t.Fatalf("got signer kid %q, want %q", meta.SignerKID, alice.KID())
	}
	if beforePackCalls != 1 || afterUnpackCalls != 1 {
		t.Fatalf("expected lifecycle hooks to fire once each, got before=%d after=%d", beforePackCalls, afterUnpackCalls)
	}

	var body tap.BasicMessage
	if err := got.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if body.Content != "ping" {
		t.Fatalf("got content %q, want ping", body.Content)
	}
}

func TestUnpackRejectsTypeMismatch(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	alice, err := Create(Config{}, registry)
	if err != nil {
		t.Fatalf("Create alice: %v", err)
	}
	bob, err := Create(Config{}, registry)
	if err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	msg, err := alice.CreateMessage(tap.TypeBasicMessage, &tap.BasicMessage{Content: "hi"}, tap.MessageOptions{To: []string{bob.DID()}})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	ctx := context.Background()
	packed, err := alice.Pack(ctx, msg, envelope.ModeAnonEncrypted, envelope.ContentA256GCM)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if _, _, err := bob.Unpack(ctx, packed, tap.TypeURI("Transfer")); err == nil {
		t.Fatal("expected a type mismatch to be rejected")
	}
}

func TestProcessDispatchesToRegisteredHandlerThenSubscribers(t *testing.T) {
	registry := did.NewDefaultRegistry(nil)
	bob, err := Create(Config{}, registry)
	if err != nil {
		t.Fatalf("Create bob: %v", err)
	}

	var handlerSeen, subscriberSeen bool
	bob.RegisterHandler(tap.KindCancel, func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, error) {
		handlerSeen = true
		return nil, nil
	})
	bob.Subscribe(func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) { subscriberSeen = true })

	msg, err := bob.CreateMessage(tap.TypeURI(tap.KindCancel), &tap.Cancel{Reason: "test"}, tap.MessageOptions{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := bob.Process(msg, &envelope.UnpackMetadata{}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !handlerSeen || !subscriberSeen {
		t.Fatalf("expected both handler and subscriber to observe the message, got handler=%v subscriber=%v", handlerSeen, subscriberSeen)
	}
}
