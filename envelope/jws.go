package envelope

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/keystore"
)

var b64 = base64.RawURLEncoding

// jwsAlgFor returns the JOSE alg identifier for a key type.
func jwsAlgFor(kt keystore.KeyType) (string, error) {
	switch kt {
	case keystore.Ed25519:
		return "EdDSA", nil
	case keystore.P256:
		return "ES256", nil
	case keystore.Secp256k1:
		return "ES256K", nil
	default:
		return "", tap.NewCryptoError("sign", "", "unsupported key type for JWS", nil)
	}
}

// jwsSignature is one entry in a JWS General Serialization's "signatures"
// array.
type jwsSignature struct {
	Protected string                 `json:"protected"`
	Header    map[string]interface{} `json:"header,omitempty"`
	Signature string                 `json:"signature"`
}

// JWS is a DIDComm-v2 signed envelope: General JSON Serialization, payload
// shared across all signatures.
type JWS struct {
	Payload    string         `json:"payload"`
	Signatures []jwsSignature `json:"signatures"`
}

// signerIdentity pairs a signing keypair with the verification-method ID
// (kid) it corresponds to, so the protected header can carry it.
type signerIdentity struct {
	KID     string
	Keypair *keystore.Keypair
}

// signJWS produces a General JSON Serialization JWS over payload, one
// signature per signer. The signing input for each signature, per RFC 7515,
// is base64url(protected) + "." + base64url(payload); protected headers
// differ per signer (alg, kid) so each signing input is computed
// separately even though the payload is shared.
func signJWS(payload []byte, signers []signerIdentity) (*JWS, error) {
	if len(signers) == 0 {
		return nil, tap.NewCryptoError("sign", "", "at least one signer is required", nil)
	}
	out := &JWS{Payload: b64.EncodeToString(payload)}
	for _, s := range signers {
		alg, err := jwsAlgFor(s.Keypair.KeyType)
		if err != nil {
			return nil, err
		}
		protected, err := Canonicalize(map[string]interface{}{
			"alg": alg,
			"kid": s.KID,
		})
		if err != nil {
			return nil, err
		}
		protectedB64 := b64.EncodeToString(protected)
		signingInput := protectedB64 + "." + out.Payload
		sig, err := s.Keypair.Sign([]byte(signingInput))
		if err != nil {
			return nil, err
		}
		out.Signatures = append(out.Signatures, jwsSignature{
			Protected: protectedB64,
			Signature: b64.EncodeToString(sig),
		})
	}
	return out, nil
}

// verifyJWS checks jws against the signer's resolved DID document and
// returns the decoded payload. Per DIDComm-v2 trust semantics the envelope
// is accepted if at least one signature verifies against a verification
// method of doc; entries whose protected header does not decode or parse
// are skipped, and only one valid signature is required to trust the
// payload.
func verifyJWS(jws *JWS, doc *did.Document) ([]byte, error) {
	if len(jws.Signatures) == 0 {
		return nil, tap.NewCryptoError("verify", "", "no signatures present", nil)
	}
	payload, err := b64.DecodeString(jws.Payload)
	if err != nil {
		return nil, tap.NewCryptoError("verify", "", "malformed payload encoding", err)
	}

	var lastErr error
	for _, sigEntry := range jws.Signatures {
		protectedRaw, err := b64.DecodeString(sigEntry.Protected)
		if err != nil {
			lastErr = tap.NewCryptoError("verify", "", "malformed protected header encoding", err)
			continue
		}
		var header struct {
			Alg string `json:"alg"`
			KID string `json:"kid"`
		}
		if err := json.Unmarshal(protectedRaw, &header); err != nil {
			lastErr = tap.NewCryptoError("verify", "", "malformed protected header", err)
			continue
		}
		vm, ok := doc.VerificationMethodByID(header.KID)
		if !ok {
			lastErr = tap.NewCryptoError("verify", header.KID, "kid not present in signer's DID document", nil)
			continue
		}
		sig, err := b64.DecodeString(sigEntry.Signature)
		if err != nil {
			lastErr = tap.NewCryptoError("verify", header.KID, "malformed signature encoding", err)
			continue
		}
		signingInput := []byte(sigEntry.Protected + "." + jws.Payload)

		ok, err = verifyOne(header.Alg, vm.PublicKeyMaterial, signingInput, sig)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return payload, nil
		}
		lastErr = tap.NewCryptoError("verify", header.KID, tap.ReasonSignatureInvalid, nil)
	}
	if lastErr == nil {
		lastErr = tap.NewCryptoError("verify", "", tap.ReasonSignatureInvalid, nil)
	}
	return nil, lastErr
}

func verifyOne(alg string, pubBytes, signingInput, sig []byte) (bool, error) {
	switch alg {
	case "EdDSA":
		pub, err := keystore.ParseEd25519PublicKey(pubBytes)
		if err != nil {
			return false, err
		}
		return ed25519.Verify(pub, signingInput, sig), nil
	case "ES256":
		pub, err := keystore.ParseP256PublicKey(pubBytes)
		if err != nil {
			return false, err
		}
		return keystore.VerifyFixedWidthRS(keystore.P256, pub, signingInput, sig)
	case "ES256K":
		pub, err := keystore.ParseSecp256k1PublicKey(pubBytes)
		if err != nil {
			return false, err
		}
		return keystore.VerifyFixedWidthRS(keystore.Secp256k1, pub, signingInput, sig)
	default:
		return false, tap.NewCryptoError("verify", "", "unsupported JWS alg "+alg, nil)
	}
}
