package keystore

import (
	stdecdsa "crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrdecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/tap-labs/tap-go"
)

// derSignature mirrors the ASN.1 SEQUENCE{INTEGER r, INTEGER s} shape both
// crypto/ecdsa and the decred library emit, letting us recover r and s
// without reaching into either package's internals.
type derSignature struct {
	R, S *big.Int
}

// signECDSARS signs msg with a P256 key and returns the fixed-width
// (r||s) encoding JOSE's ES256 requires, not ASN.1 DER.
func signECDSARS(priv *stdecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	der, err := stdecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, tap.NewCryptoError("sign", "", "p256 signing failed", err)
	}
	var sig derSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, tap.NewCryptoError("sign", "", "p256 signature decode failed", err)
	}
	return rsToFixedWidth(sig.R, sig.S, 32), nil
}

// signSecp256k1RS signs msg with a secp256k1 key and returns the fixed
// width (r||s) encoding ES256K expects.
func signSecp256k1RS(priv *secp256k1.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	der := dcrdecdsa.Sign(priv, digest[:]).Serialize()
	var sig derSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, tap.NewCryptoError("sign", "", "secp256k1 signature decode failed", err)
	}
	return rsToFixedWidth(sig.R, sig.S, 32), nil
}

func rsToFixedWidth(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return out
}
