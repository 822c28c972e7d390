package envelope

import (
	"context"
	"encoding/json"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/keystore"
)

// Mode selects one of the four DIDComm-v2 packing modes.
type Mode string

const (
	ModeSigned               Mode = "signed"
	ModeAnonEncrypted        Mode = "anon_encrypted"
	ModeAuthEncrypted        Mode = "auth_encrypted"
	ModeSignedAuthEncrypted  Mode = "signed_then_auth_encrypted"
)

// PackOptions configures Pack.
type PackOptions struct {
	Mode Mode

	// SenderKID/SenderKeypair sign the plaintext (ModeSigned and
	// ModeSignedAuthEncrypted) or authenticate the ciphertext
	// (ModeAuthEncrypted and ModeSignedAuthEncrypted).
	SenderKID     string
	SenderKeypair *keystore.Keypair

	// Recipients are the resolved key-agreement verification methods of
	// every "to" address, required for the three encrypted modes.
	Recipients []did.VerificationMethod

	// ContentAlg selects the JWE content-encryption algorithm; defaults to
	// A256CBC-HS512 if unset.
	ContentAlg ContentAlg
}

// Pack serializes msg per opts.Mode and returns the wire bytes.
func Pack(msg *tap.PlainMessage, opts PackOptions) ([]byte, error) {
	plaintext, err := Canonicalize(msg)
	if err != nil {
		return nil, tap.NewParseError("pack", "", "message marshal failed", err)
	}
	enc := opts.ContentAlg
	if enc == "" {
		enc = ContentA256CBCHS
	}

	switch opts.Mode {
	case ModeSigned:
		jws, err := signForPack(plaintext, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jws)

	case ModeAnonEncrypted:
		jwe, err := EncryptAnon(plaintext, enc, opts.Recipients)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jwe)

	case ModeAuthEncrypted:
		jwe, err := EncryptAuth(plaintext, enc, opts.Recipients, opts.SenderKID, opts.SenderKeypair)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jwe)

	case ModeSignedAuthEncrypted:
		jws, err := signForPack(plaintext, opts)
		if err != nil {
			return nil, err
		}
		signedBytes, err := json.Marshal(jws)
		if err != nil {
			return nil, tap.NewParseError("pack", "", "signed envelope marshal failed", err)
		}
		jwe, err := EncryptAuth(signedBytes, enc, opts.Recipients, opts.SenderKID, opts.SenderKeypair)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jwe)

	case "":
		msg.Seal()
		return plaintext, nil

	default:
		return nil, tap.NewCryptoError("encrypt", "", "unsupported pack mode "+string(opts.Mode), nil)
	}
}

func signForPack(plaintext []byte, opts PackOptions) (*JWS, error) {
	if opts.SenderKeypair == nil || opts.SenderKID == "" {
		return nil, tap.NewCryptoError("sign", "", "signed modes require a sender keypair and kid", nil)
	}
	return signJWS(plaintext, []signerIdentity{{KID: opts.SenderKID, Keypair: opts.SenderKeypair}})
}

// UnpackMetadata reports which DIDComm mechanisms were applied, innermost
// first being irrelevant here: outermost layer first, matching the order
// Unpack peels them off.
type UnpackMetadata struct {
	Encrypted      bool
	EncryptionAlg  string
	Authenticated  bool
	Signed         bool
	SignerKID      string
}

// KeyResolverFunc looks up the local keypair matching a key-agreement or
// verification kid, for messages addressed to this party.
type KeyResolverFunc func(kid string) (*keystore.Keypair, bool)

// Unpack reverses Pack: it inspects raw's JSON shape to determine the
// packing mode (a "ciphertext" member means JWE, a "signatures" member
// means JWS, otherwise plaintext), recursing through a signed-then-
// encrypted envelope, and returns the recovered plaintext message along
// with metadata about what was applied.
func Unpack(ctx context.Context, raw []byte, registry *did.Registry, localKeys KeyResolverFunc) (*tap.PlainMessage, *UnpackMetadata, error) {
	meta := &UnpackMetadata{}
	body := raw

	var shape struct {
		Ciphertext string `json:"ciphertext"`
		Signatures []json.RawMessage `json:"signatures"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, nil, tap.NewCryptoError("verify", "", tap.ReasonMalformedEnvelope, err)
	}

	if shape.Ciphertext != "" {
		var jwe JWE
		if err := json.Unmarshal(raw, &jwe); err != nil {
			return nil, nil, tap.NewCryptoError("decrypt", "", tap.ReasonMalformedEnvelope, err)
		}
		plaintext, alg, kid, err := decryptForUnpack(ctx, &jwe, registry, localKeys)
		if err != nil {
			return nil, nil, err
		}
		meta.Encrypted = true
		meta.EncryptionAlg = alg
		meta.Authenticated = alg == algAuth1PU
		meta.SignerKID = kid
		body = plaintext

		// A signed_then_auth_encrypted envelope carries a JWS as its
		// plaintext; recurse once to peel that layer too.
		var innerShape struct {
			Signatures []json.RawMessage `json:"signatures"`
		}
		if err := json.Unmarshal(body, &innerShape); err == nil && len(innerShape.Signatures) > 0 {
			signed, kid, err := verifyForUnpack(ctx, body, registry)
			if err != nil {
				return nil, nil, err
			}
			meta.Signed = true
			meta.SignerKID = kid
			body = signed
		}
	} else if len(shape.Signatures) > 0 {
		signed, kid, err := verifyForUnpack(ctx, body, registry)
		if err != nil {
			return nil, nil, err
		}
		meta.Signed = true
		meta.SignerKID = kid
		body = signed
	}

	var msg tap.PlainMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, nil, tap.NewParseError("unpack", "", "plaintext message decode failed", err)
	}
	msg.Seal()
	return &msg, meta, nil
}

func verifyForUnpack(ctx context.Context, raw []byte, registry *did.Registry) ([]byte, string, error) {
	var jws JWS
	if err := json.Unmarshal(raw, &jws); err != nil {
		return nil, "", tap.NewCryptoError("verify", "", tap.ReasonMalformedEnvelope, err)
	}
	if len(jws.Signatures) == 0 {
		return nil, "", tap.NewCryptoError("verify", "", "no signatures present", nil)
	}
	kid, fromDID, err := firstSignerDID(jws.Signatures[0].Protected)
	if err != nil {
		return nil, "", err
	}
	doc, err := registry.Resolve(ctx, fromDID)
	if err != nil {
		return nil, "", err
	}
	payload, err := verifyJWS(&jws, doc)
	if err != nil {
		return nil, "", err
	}
	return payload, kid, nil
}

func firstSignerDID(protectedB64 string) (kid, fromDID string, err error) {
	raw, decErr := b64.DecodeString(protectedB64)
	if decErr != nil {
		return "", "", tap.NewCryptoError("verify", "", "malformed protected header", decErr)
	}
	var header struct {
		KID string `json:"kid"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", "", tap.NewCryptoError("verify", "", "malformed protected header", err)
	}
	idx := indexOfFragment(header.KID)
	if idx < 0 {
		return header.KID, header.KID, nil
	}
	return header.KID, header.KID[:idx], nil
}

func indexOfFragment(kid string) int {
	for i, c := range kid {
		if c == '#' {
			return i
		}
	}
	return -1
}

func decryptForUnpack(ctx context.Context, jwe *JWE, registry *did.Registry, localKeys KeyResolverFunc) (plaintext []byte, alg, kid string, err error) {
	var senderAgreementPub []byte
	var skid string
	var recipientKID string
	var recipientKeypair *keystore.Keypair

	for _, r := range jwe.Recipients {
		k, _ := r.Header["kid"].(string)
		if kp, ok := localKeys(k); ok {
			recipientKID = k
			recipientKeypair = kp
			alg, _ = r.Header["alg"].(string)
			skid, _ = r.Header["skid"].(string)
			break
		}
	}
	if recipientKeypair == nil {
		return nil, "", "", tap.NewCryptoError("decrypt", "", tap.ReasonUnknownRecipient, nil)
	}

	if alg == algAuth1PU {
		senderDID := skid
		if idx := indexOfFragment(skid); idx >= 0 {
			senderDID = skid[:idx]
		}
		doc, err := registry.Resolve(ctx, senderDID)
		if err != nil {
			return nil, "", "", err
		}
		vm, ok := doc.VerificationMethodByID(skid)
		if !ok {
			return nil, "", "", tap.NewResolutionError("", senderDID, "invalid_document", nil)
		}
		senderAgreementPub = vm.PublicKeyMaterial
		// skid names the sender's signing method; an Ed25519 sender agrees
		// keys through the X25519 method listed under keyAgreement instead.
		if _, famErr := agreementFamily(vm.Type); famErr != nil {
			agreement := doc.KeyAgreementMethods()
			if len(agreement) == 0 {
				return nil, "", "", tap.NewResolutionError("", senderDID, "invalid_document", nil)
			}
			senderAgreementPub = agreement[0].PublicKeyMaterial
		}
	}

	pt, err := DecryptJWE(jwe, recipientKID, recipientKeypair, senderAgreementPub)
	if err != nil {
		return nil, "", "", err
	}
	return pt, alg, skid, nil
}
