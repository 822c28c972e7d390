package keystore

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tap-labs/tap-go"
)

// KeyType identifies one of the three key families the envelope supports.
type KeyType string

const (
	Ed25519   KeyType = "Ed25519"
	P256      KeyType = "P256"
	Secp256k1 KeyType = "Secp256k1"
)

// Keypair holds private and public material for one of the three
// supported key families, plus a derived key-agreement key: for Ed25519 an
// X25519 key is derived on construction; for the ECDSA curves the same
// curve is reused for ECDH.
type Keypair struct {
	KeyType KeyType

	// Ed25519
	ed25519Priv ed25519.PrivateKey
	ed25519Pub  ed25519.PublicKey

	// P256
	p256Priv *ecdsa.PrivateKey

	// Secp256k1
	secpPriv *secp256k1.PrivateKey
}

// GenerateKeypair creates a fresh keypair of the given type.
func GenerateKeypair(kt KeyType) (*Keypair, error) {
	switch kt {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, tap.NewCryptoError("generate", "", "ed25519 key generation failed", err)
		}
		return &Keypair{KeyType: Ed25519, ed25519Priv: priv, ed25519Pub: pub}, nil
	case P256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, tap.NewCryptoError("generate", "", "p256 key generation failed", err)
		}
		return &Keypair{KeyType: P256, p256Priv: priv}, nil
	case Secp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, tap.NewCryptoError("generate", "", "secp256k1 key generation failed", err)
		}
		return &Keypair{KeyType: Secp256k1, secpPriv: priv}, nil
	default:
		return nil, tap.NewCryptoError("generate", "", fmt.Sprintf("unsupported key type %q", kt), nil)
	}
}

// ImportKeypair reconstructs a keypair from a raw private-key encoding:
// the 32-byte seed for Ed25519, the scalar for P256/Secp256k1.
func ImportKeypair(kt KeyType, private []byte) (*Keypair, error) {
	switch kt {
	case Ed25519:
		if len(private) != ed25519.SeedSize {
			return nil, tap.NewCryptoError("import", "", "ed25519 seed must be 32 bytes", nil)
		}
		priv := ed25519.NewKeyFromSeed(private)
		return &Keypair{KeyType: Ed25519, ed25519Priv: priv, ed25519Pub: priv.Public().(ed25519.PublicKey)}, nil
	case P256:
		curve := elliptic.P256()
		x, y := curve.ScalarBaseMult(private)
		priv := &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
			D:         new(big.Int).SetBytes(private),
		}
		return &Keypair{KeyType: P256, p256Priv: priv}, nil
	case Secp256k1:
		priv := secp256k1.PrivKeyFromBytes(private)
		return &Keypair{KeyType: Secp256k1, secpPriv: priv}, nil
	default:
		return nil, tap.NewCryptoError("import", "", fmt.Sprintf("unsupported key type %q", kt), nil)
	}
}

// PublicBytes returns the canonical public-key encoding: 32-byte raw point
// for Ed25519, compressed SEC1 point for P256 and Secp256k1.
func (k *Keypair) PublicBytes() []byte {
	switch k.KeyType {
	case Ed25519:
		return append([]byte(nil), k.ed25519Pub...)
	case P256:
		return elliptic.MarshalCompressed(elliptic.P256(), k.p256Priv.X, k.p256Priv.Y)
	case Secp256k1:
		return k.secpPriv.PubKey().SerializeCompressed()
	}
	return nil
}

// PrivateBytes returns the canonical private-key encoding: the 32-byte
// Ed25519 seed, or the raw scalar for the ECDSA curves.
func (k *Keypair) PrivateBytes() []byte {
	switch k.KeyType {
	case Ed25519:
		return append([]byte(nil), k.ed25519Priv.Seed()...)
	case P256:
		return k.p256Priv.D.FillBytes(make([]byte, 32))
	case Secp256k1:
		return k.secpPriv.Serialize()
	}
	return nil
}

// Sign produces a raw signature over msg in the format the envelope's JWS
// algorithm for this key type expects: 64-byte Ed25519, fixed-width (r||s)
// for P256 and Secp256k1 (JOSE's ES256/ES256K convention, not ASN.1 DER).
func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	switch k.KeyType {
	case Ed25519:
		return ed25519.Sign(k.ed25519Priv, msg), nil
	case P256:
		return signECDSARS(k.p256Priv, msg)
	case Secp256k1:
		return signSecp256k1RS(k.secpPriv, msg)
	}
	return nil, tap.NewCryptoError("sign", "", "unsupported key type", nil)
}

// AgreementPrivateBytes returns the private scalar used for ECDH: the
// derived X25519 scalar for Ed25519, the same scalar reused for the ECDSA
// curves.
func (k *Keypair) AgreementPrivateBytes() ([]byte, error) {
	switch k.KeyType {
	case Ed25519:
		return ed25519PrivateToX25519(k.ed25519Priv), nil
	case P256:
		return k.p256Priv.D.FillBytes(make([]byte, 32)), nil
	case Secp256k1:
		return k.secpPriv.Serialize(), nil
	}
	return nil, tap.NewCryptoError("key-lookup", "", "unsupported key type", nil)
}

// AgreementPublicBytes returns the public key-agreement material: the
// derived X25519 public key for Ed25519, the same compressed point for the
// ECDSA curves (consumers convert via crypto/ecdh as needed).
func (k *Keypair) AgreementPublicBytes() ([]byte, error) {
	switch k.KeyType {
	case Ed25519:
		return ed25519PublicToX25519(k.ed25519Pub)
	case P256:
		return elliptic.MarshalCompressed(elliptic.P256(), k.p256Priv.X, k.p256Priv.Y), nil
	case Secp256k1:
		return k.secpPriv.PubKey().SerializeCompressed(), nil
	}
	return nil, tap.NewCryptoError("key-lookup", "", "unsupported key type", nil)
}

// X25519Private returns the stdlib ecdh.PrivateKey for an Ed25519-derived
// agreement key, for use in the envelope's ECDH step.
func (k *Keypair) X25519Private() (*ecdh.PrivateKey, error) {
	b, err := k.AgreementPrivateBytes()
	if err != nil {
		return nil, err
	}
	priv, err := ecdh.X25519().NewPrivateKey(b)
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "invalid derived x25519 scalar", err)
	}
	return priv, nil
}

// P256ECDH returns the stdlib ecdh.PrivateKey for a P256 keypair, reusing
// the ECDSA scalar for key agreement as the spec requires.
func (k *Keypair) P256ECDH() (*ecdh.PrivateKey, error) {
	if k.KeyType != P256 {
		return nil, tap.NewCryptoError("key-lookup", "", "not a p256 key", nil)
	}
	priv, err := k.p256Priv.ECDH()
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "p256 ecdh conversion failed", err)
	}
	return priv, nil
}

// Secp256k1Key exposes the underlying decred key for the envelope's
// secp256k1 ECDH and ES256K signing paths.
func (k *Keypair) Secp256k1Key() (*secp256k1.PrivateKey, error) {
	if k.KeyType != Secp256k1 {
		return nil, tap.NewCryptoError("key-lookup", "", "not a secp256k1 key", nil)
	}
	return k.secpPriv, nil
}

func ed25519PrivateToX25519(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// Ed25519PublicToX25519 converts a raw Ed25519 public key to its
// Montgomery (X25519) form, for resolvers that need to derive a
// key-agreement method from a verification method out-of-band.
func Ed25519PublicToX25519(pub []byte) ([]byte, error) {
	return ed25519PublicToX25519(pub)
}

func ed25519PublicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, tap.NewCryptoError("key-lookup", "", "invalid ed25519 public point", err)
	}
	return p.BytesMontgomery(), nil
}
