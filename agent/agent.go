// Package agent implements C6: an Agent binds a DID identity (backed by a
// keystore.Keypair), the envelope packer/unpacker, and the TAP message
// model into a single participant that can build, pack, unpack, and
// dispatch messages.
package agent

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/config"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/envelope"
	"github.com/tap-labs/tap-go/keystore"
)

// HandlerFunc handles a message of one specific kind.
type HandlerFunc func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, error)

// SubscriberFunc observes every processed message, regardless of kind.
type SubscriberFunc func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata)

// Config configures Agent.Create.
type Config struct {
	// KeyType selects the generated key family; defaults to Ed25519. Unused
	// if ExistingDID is set.
	KeyType keystore.KeyType

	Nickname string

	// ExistingDID/ExistingKeypair let a caller construct an Agent around an
	// already-resolved identity instead of minting a fresh did:key.
	ExistingDID     string
	ExistingKeypair *keystore.Keypair

	// Resolver supplies the timeout Create applies while resolving its own
	// identity's kid/agreementKID. A nil Resolver falls back to
	// config.Default().
	Resolver *config.Config
}

// Agent is a participant: an identity plus the message-model and envelope
// operations bound to it.
type Agent struct {
	did          string
	nickname     string
	keypair      *keystore.Keypair
	kid          string // verification-method id used for signing/kid headers
	agreementKID string // key-agreement verification-method id used as JWE recipient kid

	registry *did.Registry

	handlers    map[string]HandlerFunc
	subscribers []SubscriberFunc

	onBeforePack  []func(*tap.PlainMessage)
	onAfterUnpack []func(*tap.PlainMessage, *envelope.UnpackMetadata)
}

// Create builds an Agent per cfg: generating a fresh keypair and a
// did:key identity unless cfg.ExistingDID/ExistingKeypair are supplied.
func Create(cfg Config, registry *did.Registry) (*Agent, error) {
	a := &Agent{
		nickname: cfg.Nickname,
		registry: registry,
		handlers: make(map[string]HandlerFunc),
	}

	resolverCfg := cfg.Resolver
	if resolverCfg == nil {
		resolverCfg = config.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), resolverCfg.ResolverTimeout)
	defer cancel()

	if cfg.ExistingDID != "" {
		if cfg.ExistingKeypair == nil {
			return nil, tap.NewCryptoError("key-lookup", "", "ExistingDID requires ExistingKeypair", nil)
		}
		a.did = cfg.ExistingDID
		a.keypair = cfg.ExistingKeypair
		kid, agreementKID, err := resolveOwnKIDs(ctx, registry, cfg.ExistingDID, cfg.ExistingKeypair)
		if err != nil {
			return nil, err
		}
		a.kid = kid
		a.agreementKID = agreementKID
		return a, nil
	}

	kt := cfg.KeyType
	if kt == "" {
		kt = keystore.Ed25519
	}
	kp, err := keystore.GenerateKeypair(kt)
	if err != nil {
		return nil, err
	}
	didStr, err := did.NewDID(kt, kp.PublicBytes())
	if err != nil {
		return nil, err
	}
	a.did = didStr
	a.keypair = kp
	a.kid = didStr + "#" + strings.TrimPrefix(didStr, "did:key:")

	_, agreementKID, err := resolveOwnKIDs(ctx, registry, didStr, kp)
	if err != nil {
		return nil, err
	}
	a.agreementKID = agreementKID
	return a, nil
}

// resolveOwnKIDs resolves did and returns both the verification-method ID
// whose public key material matches kp's signing public key, and the
// key-agreement verification-method ID whose material matches kp's derived
// agreement public key. For Ed25519 identities these are two distinct
// methods (a derived X25519 key); for the ECDSA families they coincide.
func resolveOwnKIDs(ctx context.Context, registry *did.Registry, didStr string, kp *keystore.Keypair) (kid, agreementKID string, err error) {
	doc, err := registry.Resolve(ctx, didStr)
	if err != nil {
		return "", "", err
	}
	pub := kp.PublicBytes()
	for _, vm := range doc.VerificationMethod {
		if string(vm.PublicKeyMaterial) == string(pub) {
			kid = vm.ID
			break
		}
	}
	if kid == "" {
		return "", "", tap.NewCryptoError("key-lookup", didStr, "no verification method matches the supplied keypair", nil)
	}

	agreementPub, err := kp.AgreementPublicBytes()
	if err != nil {
		return "", "", err
	}
	for _, vm := range doc.KeyAgreementMethods() {
		if string(vm.PublicKeyMaterial) == string(agreementPub) {
			return kid, vm.ID, nil
		}
	}
	return "", "", tap.NewCryptoError("key-lookup", didStr, "no key-agreement method matches the supplied keypair", nil)
}

// DID returns the agent's own DID.
func (a *Agent) DID() string { return a.did }

// Nickname returns the agent's optional display name.
func (a *Agent) Nickname() string { return a.nickname }

// KID returns the verification-method id this agent signs under.
func (a *Agent) KID() string { return a.kid }

// AgreementKID returns the key-agreement verification-method id this
// agent decrypts under — distinct from KID for Ed25519 identities, which
// derive a separate X25519 agreement key.
func (a *Agent) AgreementKID() string { return a.agreementKID }

// CreateMessage builds a new plain message from this agent (from = a.did).
func (a *Agent) CreateMessage(typeURI string, body tap.Body, opts tap.MessageOptions) (*tap.PlainMessage, error) {
	return tap.NewMessage(a.did, typeURI, body, opts)
}

// OnBeforePack registers a hook invoked with the plaintext message
// immediately before Pack serializes it — purely additive instrumentation,
// not part of the reply-legality state machine.
func (a *Agent) OnBeforePack(hook func(msg *tap.PlainMessage)) {
	a.onBeforePack = append(a.onBeforePack, hook)
}

// OnAfterUnpack registers a hook invoked with the recovered plaintext and
// its unpack metadata immediately after Unpack succeeds.
func (a *Agent) OnAfterUnpack(hook func(msg *tap.PlainMessage, meta *envelope.UnpackMetadata)) {
	a.onAfterUnpack = append(a.onAfterUnpack, hook)
}

// Pack serializes msg per mode, resolving recipient key-agreement methods
// from a.registry as needed.
func (a *Agent) Pack(ctx context.Context, msg *tap.PlainMessage, mode envelope.Mode, contentAlg envelope.ContentAlg) ([]byte, error) {
	for _, hook := range a.onBeforePack {
		hook(msg)
	}

	opts := envelope.PackOptions{
		Mode:          mode,
		SenderKID:     a.kid,
		SenderKeypair: a.keypair,
		ContentAlg:    contentAlg,
	}
	if mode == envelope.ModeAnonEncrypted || mode == envelope.ModeAuthEncrypted || mode == envelope.ModeSignedAuthEncrypted {
		recipients, err := a.resolveRecipientAgreementMethods(ctx, msg.To)
		if err != nil {
			return nil, err
		}
		opts.Recipients = recipients
	}

	packed, err := envelope.Pack(msg, opts)
	if err != nil {
		return nil, err
	}
	msg.Seal()
	return packed, nil
}

func (a *Agent) resolveRecipientAgreementMethods(ctx context.Context, recipientDIDs []string) ([]did.VerificationMethod, error) {
	if len(recipientDIDs) == 0 {
		return nil, tap.NewCryptoError("encrypt", "", "encrypted modes require at least one recipient", nil)
	}
	var out []did.VerificationMethod
	for _, r := range recipientDIDs {
		doc, err := a.registry.Resolve(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.KeyAgreementMethods()...)
	}
	return out, nil
}

// Unpack reverses Pack, using this agent's own keypair to satisfy any
// recipient-side decryption, and runs any OnAfterUnpack hooks. If
// expectedType is non-empty, a mismatch against the recovered message's
// Type is reported as a ParseError.
func (a *Agent) Unpack(ctx context.Context, packed []byte, expectedType string) (*tap.PlainMessage, *envelope.UnpackMetadata, error) {
	localKeys := func(kid string) (*keystore.Keypair, bool) {
		if kid == a.kid || kid == a.agreementKID {
			return a.keypair, true
		}
		return nil, false
	}
	msg, meta, err := envelope.Unpack(ctx, packed, a.registry, localKeys)
	if err != nil {
		return nil, nil, err
	}
	if expectedType != "" && msg.Type != expectedType {
		return nil, nil, tap.NewParseError("type", msg.Type, "does not match expected_type "+expectedType, nil)
	}
	for _, hook := range a.onAfterUnpack {
		hook(msg, meta)
	}
	return msg, meta, nil
}

// RegisterHandler binds callback as the handler for the TAP message kind
// (the fragment after SchemaBase, e.g. "Transfer"); a kind may have at most
// one handler.
func (a *Agent) RegisterHandler(kind string, callback HandlerFunc) {
	a.handlers[kind] = callback
}

// Subscribe registers callback to observe every message Process handles,
// after the per-kind handler (if any) has run.
func (a *Agent) Subscribe(callback SubscriberFunc) {
	a.subscribers = append(a.subscribers, callback)
}

// Process dispatches msg to its registered handler (if any), then to every
// subscriber, returning the handler's response (if it produced one).
func (a *Agent) Process(msg *tap.PlainMessage, meta *envelope.UnpackMetadata) (*tap.PlainMessage, error) {
	var response *tap.PlainMessage
	if handler, ok := a.handlers[msg.Kind()]; ok {
		resp, err := handler(msg, meta)
		if err != nil {
			return nil, tap.NewParseError("handler", msg.Kind(), "handler returned an error: "+err.Error(), err)
		}
		response = resp
	}
	for _, sub := range a.subscribers {
		sub(msg, meta)
	}
	return response, nil
}

// ExportPrivateKey returns the agent's private key material hex-encoded,
// for callers relocating the identity to another store.
func (a *Agent) ExportPrivateKey() string {
	return hex.EncodeToString(a.keypair.PrivateBytes())
}

// ExportPublicKey returns the agent's public key material hex-encoded.
func (a *Agent) ExportPublicKey() string {
	return hex.EncodeToString(a.keypair.PublicBytes())
}
