package keystore

import (
	"crypto/ecdh"
	stdecdsa "crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrdecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/tap-labs/tap-go"
)

// ParseEd25519PublicKey validates that b is a 32-byte Ed25519 public key.
func ParseEd25519PublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, tap.NewCryptoError("key-lookup", "", "ed25519 public key must be 32 bytes", nil)
	}
	return ed25519.PublicKey(b), nil
}

// ParseP256PublicKey parses a compressed or uncompressed SEC1 P256 point.
func ParseP256PublicKey(b []byte) (*stdecdsa.PublicKey, error) {
	curve := elliptic.P256()
	var x, y *big.Int
	if len(b) > 0 && (b[0] == 0x02 || b[0] == 0x03) {
		x, y = elliptic.UnmarshalCompressed(curve, b)
	} else {
		x, y = elliptic.Unmarshal(curve, b)
	}
	if x == nil {
		return nil, tap.NewCryptoError("key-lookup", "", "invalid p256 public key encoding", nil)
	}
	return &stdecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// ParseSecp256k1PublicKey parses a compressed or uncompressed secp256k1
// point.
func ParseSecp256k1PublicKey(b []byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "invalid secp256k1 public key encoding", err)
	}
	return pub, nil
}

// VerifyFixedWidthRS verifies a JOSE-style fixed-width (r||s) signature
// against a P256 or Secp256k1 public key.
func VerifyFixedWidthRS(kt KeyType, pub interface{}, msg, sig []byte) (bool, error) {
	if len(sig) != 64 {
		return false, tap.NewCryptoError("verify", "", "signature must be 64 bytes (r||s)", nil)
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(msg)

	switch kt {
	case P256:
		key, ok := pub.(*stdecdsa.PublicKey)
		if !ok {
			return false, tap.NewCryptoError("verify", "", "expected *ecdsa.PublicKey for P256", nil)
		}
		return stdecdsa.Verify(key, digest[:], r, s), nil
	case Secp256k1:
		key, ok := pub.(*secp256k1.PublicKey)
		if !ok {
			return false, tap.NewCryptoError("verify", "", "expected *secp256k1.PublicKey for Secp256k1", nil)
		}
		var rs, ss secp256k1.ModNScalar
		rs.SetByteSlice(sig[:32])
		ss.SetByteSlice(sig[32:])
		sigObj := dcrdecdsa.NewSignature(&rs, &ss)
		return sigObj.Verify(digest[:], key), nil
	default:
		return false, tap.NewCryptoError("verify", "", "unsupported key type for rs verify", nil)
	}
}

// X25519PublicFromBytes wraps a raw X25519 public key for use in ECDH.
func X25519PublicFromBytes(b []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.X25519().NewPublicKey(b)
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "invalid x25519 public key", err)
	}
	return pub, nil
}

// P256PublicECDH converts a raw compressed/uncompressed P256 point to an
// ecdh.PublicKey for key agreement.
func P256PublicECDH(b []byte) (*ecdh.PublicKey, error) {
	stdPub, err := ParseP256PublicKey(b)
	if err != nil {
		return nil, err
	}
	pub, err := stdPub.ECDH()
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "p256 ecdh conversion failed", err)
	}
	return pub, nil
}
