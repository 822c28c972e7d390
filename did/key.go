package did

import (
	"context"

	"github.com/mr-tron/base58"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/keystore"
)

// Multicodec varint prefixes for the three supported key families, and
// for the derived X25519 companion key on Ed25519 documents.
var (
	codecEd25519   = []byte{0xed, 0x01}
	codecP256      = []byte{0x12, 0x00}
	codecSecp256k1 = []byte{0xe7, 0x01}
	codecX25519    = []byte{0xec, 0x01}
)

// KeyResolver resolves did:key identifiers purely locally: the suffix
// after "did:key:" is a multibase (base58btc, 'z') multicodec public key.
type KeyResolver struct{}

func (r *KeyResolver) SupportedMethods() []string { return []string{"key"} }

func (r *KeyResolver) Resolve(_ context.Context, didStr string) (*Document, error) {
	const prefix = "did:key:"
	if len(didStr) <= len(prefix) || didStr[:len(prefix)] != prefix {
		return nil, tap.NewResolutionError("key", didStr, "invalid_did", nil)
	}
	multibase := didStr[len(prefix):]
	if len(multibase) == 0 || multibase[0] != 'z' {
		return nil, tap.NewResolutionError("key", didStr, "invalid_did: expected base58btc multibase prefix 'z'", nil)
	}
	raw, err := base58.Decode(multibase[1:])
	if err != nil {
		return nil, tap.NewResolutionError("key", didStr, "invalid_did: bad multibase encoding", err)
	}

	kt, codecLen, vmType, pub, err := decodeMulticodecKey(raw)
	if err != nil {
		return nil, tap.NewResolutionError("key", didStr, "invalid_did: "+err.Error(), nil)
	}
	_ = codecLen

	vmID := didStr + "#" + multibase
	doc := &Document{
		ID: didStr,
		VerificationMethod: []VerificationMethod{
			{ID: vmID, Type: vmType, Controller: didStr, PublicKeyMaterial: pub},
		},
		Authentication: []string{vmID},
	}

	if kt == keystore.Ed25519 {
		agreementPub, err := keystore.Ed25519PublicToX25519(pub)
		if err != nil {
			return nil, tap.NewResolutionError("key", didStr, "invalid_document: "+err.Error(), err)
		}
		agreementMultibase := "z" + base58.Encode(append(append([]byte{}, codecX25519...), agreementPub...))
		agreementID := didStr + "#" + agreementMultibase
		doc.VerificationMethod = append(doc.VerificationMethod, VerificationMethod{
			ID: agreementID, Type: "X25519KeyAgreementKey2019", Controller: didStr, PublicKeyMaterial: agreementPub,
		})
		doc.KeyAgreement = []string{agreementID}
	} else {
		// ECDSA curves reuse the same verification key for key agreement.
		doc.KeyAgreement = []string{vmID}
	}

	return doc, nil
}

// NewDID synthesizes a did:key identifier from a freshly minted (or
// existing) keypair's public key.
func NewDID(kt keystore.KeyType, publicKey []byte) (string, error) {
	codec, err := codecFor(kt)
	if err != nil {
		return "", err
	}
	encoded := base58.Encode(append(append([]byte{}, codec...), publicKey...))
	return "did:key:z" + encoded, nil
}

func codecFor(kt keystore.KeyType) ([]byte, error) {
	switch kt {
	case keystore.Ed25519:
		return codecEd25519, nil
	case keystore.P256:
		return codecP256, nil
	case keystore.Secp256k1:
		return codecSecp256k1, nil
	default:
		return nil, tap.NewParseError("key_type", string(kt), "unsupported key type", nil)
	}
}

func decodeMulticodecKey(raw []byte) (kt keystore.KeyType, codecLen int, vmType string, pub []byte, err error) {
	if len(raw) < 2 {
		return "", 0, "", nil, tap.NewParseError("did:key", "", "truncated multicodec key", nil)
	}
	switch {
	case raw[0] == codecEd25519[0] && raw[1] == codecEd25519[1]:
		return keystore.Ed25519, 2, "Ed25519VerificationKey2020", raw[2:], nil
	case raw[0] == codecP256[0] && raw[1] == codecP256[1]:
		return keystore.P256, 2, "P256Key2021", raw[2:], nil
	case raw[0] == codecSecp256k1[0] && raw[1] == codecSecp256k1[1]:
		return keystore.Secp256k1, 2, "EcdsaSecp256k1VerificationKey2019", raw[2:], nil
	default:
		return "", 0, "", nil, tap.NewParseError("did:key", "", "unrecognized multicodec prefix", nil)
	}
}
