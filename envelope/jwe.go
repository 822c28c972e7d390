package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tap-labs/tap-go"
	"github.com/tap-labs/tap-go/did"
	"github.com/tap-labs/tap-go/keystore"
)

// algEncES is the JWE "alg" for anonymous encryption (section 6.1 mode
// anon_encrypted): an ephemeral-static ECDH per recipient, no sender
// authentication.
const algEncES = "ECDH-ES+A256KW"

// algAuth1PU is the JWE "alg" for authenticated encryption (section 6.1
// mode auth_encrypted): ECDH-1PU combines an ephemeral-static agreement
// with a static-static agreement against the sender's own key, so the
// recipient can authenticate the sender without a separate signature.
const algAuth1PU = "ECDH-1PU+A256KW"

type jweRecipientOut struct {
	Header       map[string]interface{} `json:"header"`
	EncryptedKey string                 `json:"encrypted_key"`
}

// JWE is a DIDComm-v2 encrypted envelope: General JSON Serialization, one
// recipients entry (and independently derived content-encryption key wrap)
// per recipient, ciphertext shared.
type JWE struct {
	Protected  string             `json:"protected"`
	Recipients []jweRecipientOut  `json:"recipients"`
	IV         string             `json:"iv"`
	Ciphertext string             `json:"ciphertext"`
	Tag        string             `json:"tag"`
}

// agreementFamily classifies a DID document verification method into one
// of the three key-agreement curve families, mirroring how did.KeyResolver
// labels keyAgreement entries.
func agreementFamily(vmType string) (string, error) {
	switch vmType {
	case "X25519KeyAgreementKey2019":
		return "X25519", nil
	case "P256Key2021":
		return "P256", nil
	case "EcdsaSecp256k1VerificationKey2019":
		return "Secp256k1", nil
	default:
		return "", tap.NewCryptoError("key-lookup", "", "verification method type is not usable for key agreement: "+vmType, nil)
	}
}

func familyOfKeypair(kt keystore.KeyType) (string, error) {
	switch kt {
	case keystore.Ed25519:
		return "X25519", nil
	case keystore.P256:
		return "P256", nil
	case keystore.Secp256k1:
		return "Secp256k1", nil
	default:
		return "", tap.NewCryptoError("key-lookup", "", "unsupported key type for agreement", nil)
	}
}

// ephemeralKeypair generates a fresh ECDH keypair in the given family and
// returns (privateHandle, publicBytes). privateHandle is *ecdh.PrivateKey
// for X25519/P256, *secp256k1.PrivateKey for Secp256k1.
func ephemeralKeypair(family string) (interface{}, []byte, error) {
	switch family {
	case "X25519":
		priv, err := ecdh.X25519().GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, tap.NewCryptoError("encrypt", "", "ephemeral x25519 generation failed", err)
		}
		return priv, priv.PublicKey().Bytes(), nil
	case "P256":
		priv, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, tap.NewCryptoError("encrypt", "", "ephemeral p256 generation failed", err)
		}
		return priv, priv.PublicKey().Bytes(), nil
	case "Secp256k1":
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, tap.NewCryptoError("encrypt", "", "ephemeral secp256k1 generation failed", err)
		}
		return priv, priv.PubKey().SerializeCompressed(), nil
	default:
		return nil, nil, tap.NewCryptoError("encrypt", "", "unsupported agreement family", nil)
	}
}

// ecdhWithFamily performs key agreement: priv must be the handle type
// ephemeralKeypair/familyOfKeypair produces for family, pubBytes the raw
// encoding of the other party's public key in the same family.
func ecdhWithFamily(family string, priv interface{}, pubBytes []byte) ([]byte, error) {
	switch family {
	case "X25519":
		p, ok := priv.(*ecdh.PrivateKey)
		if !ok {
			return nil, tap.NewCryptoError("encrypt", "", "x25519 private handle mismatch", nil)
		}
		pub, err := keystore.X25519PublicFromBytes(pubBytes)
		if err != nil {
			return nil, err
		}
		z, err := p.ECDH(pub)
		if err != nil {
			return nil, tap.NewCryptoError("encrypt", "", "x25519 ecdh failed", err)
		}
		return z, nil
	case "P256":
		p, ok := priv.(*ecdh.PrivateKey)
		if !ok {
			return nil, tap.NewCryptoError("encrypt", "", "p256 private handle mismatch", nil)
		}
		pub, err := keystore.P256PublicECDH(pubBytes)
		if err != nil {
			return nil, err
		}
		z, err := p.ECDH(pub)
		if err != nil {
			return nil, tap.NewCryptoError("encrypt", "", "p256 ecdh failed", err)
		}
		return z, nil
	case "Secp256k1":
		p, ok := priv.(*secp256k1.PrivateKey)
		if !ok {
			return nil, tap.NewCryptoError("encrypt", "", "secp256k1 private handle mismatch", nil)
		}
		pub, err := keystore.ParseSecp256k1PublicKey(pubBytes)
		if err != nil {
			return nil, err
		}
		return secp256k1ECDH(p, pub), nil
	default:
		return nil, tap.NewCryptoError("encrypt", "", "unsupported agreement family", nil)
	}
}

// secp256k1ECDH computes the raw ECDH shared secret (the x-coordinate of
// priv*pub) via the library's scalar-multiplication primitive, since the
// package exposes no ECDH convenience method the way crypto/ecdh does for
// the NIST curves.
func secp256k1ECDH(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) []byte {
	var pubJ, resultJ secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)
	secp256k1.ScalarMultNonConst(&priv.Key, &pubJ, &resultJ)
	resultJ.ToAffine()
	x := resultJ.X.Bytes()
	return x[:]
}

func agreementPrivateHandle(kp *keystore.Keypair) (interface{}, error) {
	switch kp.KeyType {
	case keystore.Ed25519:
		return kp.X25519Private()
	case keystore.P256:
		return kp.P256ECDH()
	case keystore.Secp256k1:
		return kp.Secp256k1Key()
	default:
		return nil, tap.NewCryptoError("key-lookup", "", "unsupported key type for agreement", nil)
	}
}

// EncryptAnon seals payload for recipients using ECDH-ES+A256KW per
// recipient (section 6.1's anon_encrypted mode): no sender authentication.
func EncryptAnon(payload []byte, enc ContentAlg, recipients []did.VerificationMethod) (*JWE, error) {
	return encryptJWE(payload, enc, recipients, nil)
}

// EncryptAuth seals payload for recipients using ECDH-1PU+A256KW per
// recipient (section 6.1's auth_encrypted mode): the sender's static
// agreement key is folded into each recipient's key derivation, so
// successful decryption itself authenticates the sender.
func EncryptAuth(payload []byte, enc ContentAlg, recipients []did.VerificationMethod, senderKID string, sender *keystore.Keypair) (*JWE, error) {
	return encryptJWE(payload, enc, recipients, &signerIdentity{KID: senderKID, Keypair: sender})
}

func encryptJWE(payload []byte, enc ContentAlg, recipients []did.VerificationMethod, sender *signerIdentity) (*JWE, error) {
	if len(recipients) == 0 {
		return nil, tap.NewCryptoError("encrypt", "", "at least one recipient is required", nil)
	}

	protectedHeader := map[string]interface{}{
		"enc": string(enc),
		"typ": "application/didcomm-encrypted+json",
	}
	alg := algEncES
	if sender != nil {
		alg = algAuth1PU
	}
	protected, err := Canonicalize(protectedHeader)
	if err != nil {
		return nil, err
	}
	protectedB64 := b64.EncodeToString(protected)
	aad := []byte(protectedB64)

	cek := make([]byte, cekSizeBits(enc)/8)
	if _, err := rand.Read(cek); err != nil {
		return nil, tap.NewCryptoError("encrypt", "", "cek generation failed", err)
	}

	var senderAgreementHandle interface{}
	var senderFamily string
	if sender != nil {
		senderFamily, err = familyOfKeypair(sender.Keypair.KeyType)
		if err != nil {
			return nil, err
		}
		senderAgreementHandle, err = agreementPrivateHandle(sender.Keypair)
		if err != nil {
			return nil, err
		}
	}

	out := &JWE{Protected: protectedB64}
	for _, vm := range recipients {
		family, err := agreementFamily(vm.Type)
		if err != nil {
			return nil, err
		}
		ephPriv, ephPub, err := ephemeralKeypair(family)
		if err != nil {
			return nil, err
		}
		ze, err := ecdhWithFamily(family, ephPriv, vm.PublicKeyMaterial)
		if err != nil {
			return nil, err
		}

		z := ze
		header := map[string]interface{}{
			"alg": alg,
			"kid": vm.ID,
			"epk": map[string]interface{}{"crv": family, "x": b64.EncodeToString(ephPub)},
			"apu": b64.EncodeToString([]byte(vm.ID)),
			"apv": b64.EncodeToString([]byte(vm.ID)),
		}
		if sender != nil {
			if family != senderFamily {
				return nil, tap.NewCryptoError("encrypt", vm.ID, "sender and recipient agreement key families differ", nil)
			}
			zs, err := ecdhWithFamily(family, senderAgreementHandle, vm.PublicKeyMaterial)
			if err != nil {
				return nil, err
			}
			z = append(append([]byte(nil), ze...), zs...)
			header["skid"] = sender.KID
		}

		kek := concatKDF(z, 256, []byte(alg), []byte(vm.ID), []byte(vm.ID))
		encryptedKey, err := aesKWWrap(kek, cek)
		if err != nil {
			return nil, err
		}
		out.Recipients = append(out.Recipients, jweRecipientOut{
			Header:       header,
			EncryptedKey: b64.EncodeToString(encryptedKey),
		})
	}

	iv, ciphertext, tag, err := contentEncrypt(enc, cek, payload, aad)
	if err != nil {
		return nil, err
	}
	out.IV = b64.EncodeToString(iv)
	out.Ciphertext = b64.EncodeToString(ciphertext)
	out.Tag = b64.EncodeToString(tag)
	return out, nil
}

// DecryptJWE unseals jwe for the holder of recipientKeypair, identified by
// recipientKID. senderAgreementPub must be the sender's resolved
// key-agreement public key bytes for ECDH-1PU (auth_encrypted) envelopes,
// and is ignored for ECDH-ES (anon_encrypted) envelopes.
func DecryptJWE(jwe *JWE, recipientKID string, recipientKeypair *keystore.Keypair, senderAgreementPub []byte) ([]byte, error) {
	var entry *jweRecipientOut
	for i := range jwe.Recipients {
		if kid, _ := jwe.Recipients[i].Header["kid"].(string); kid == recipientKID {
			entry = &jwe.Recipients[i]
			break
		}
	}
	if entry == nil {
		return nil, tap.NewCryptoError("decrypt", recipientKID, tap.ReasonUnknownRecipient, nil)
	}

	alg, _ := entry.Header["alg"].(string)
	epkRaw, _ := entry.Header["epk"].(map[string]interface{})
	epkX, _ := epkRaw["x"].(string)
	apu, _ := entry.Header["apu"].(string)
	apv, _ := entry.Header["apv"].(string)
	epkBytes, err := b64.DecodeString(epkX)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", recipientKID, "malformed epk", err)
	}
	apuBytes, err := b64.DecodeString(apu)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", recipientKID, "malformed apu", err)
	}
	apvBytes, err := b64.DecodeString(apv)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", recipientKID, "malformed apv", err)
	}

	family, err := familyOfKeypair(recipientKeypair.KeyType)
	if err != nil {
		return nil, err
	}
	recipientPriv, err := agreementPrivateHandle(recipientKeypair)
	if err != nil {
		return nil, err
	}
	ze, err := ecdhWithFamily(family, recipientPriv, epkBytes)
	if err != nil {
		return nil, err
	}

	z := ze
	if alg == algAuth1PU {
		if len(senderAgreementPub) == 0 {
			return nil, tap.NewCryptoError("decrypt", recipientKID, "auth_encrypted envelope requires sender's agreement key", nil)
		}
		zs, err := ecdhWithFamily(family, recipientPriv, senderAgreementPub)
		if err != nil {
			return nil, err
		}
		z = append(append([]byte(nil), ze...), zs...)
	}

	kek := concatKDF(z, 256, []byte(alg), apuBytes, apvBytes)
	encryptedKey, err := b64.DecodeString(entry.EncryptedKey)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", recipientKID, "malformed encrypted_key", err)
	}
	cek, err := aesKWUnwrap(kek, encryptedKey)
	if err != nil {
		return nil, err
	}

	var protectedHeader struct {
		Enc string `json:"enc"`
	}
	protectedRaw, err := b64.DecodeString(jwe.Protected)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "malformed protected header encoding", err)
	}
	if err := json.Unmarshal(protectedRaw, &protectedHeader); err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "malformed protected header", err)
	}

	iv, err := b64.DecodeString(jwe.IV)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "malformed iv", err)
	}
	ciphertext, err := b64.DecodeString(jwe.Ciphertext)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "malformed ciphertext", err)
	}
	tag, err := b64.DecodeString(jwe.Tag)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "malformed tag", err)
	}
	aad := []byte(jwe.Protected)

	return contentDecrypt(ContentAlg(protectedHeader.Enc), cek, iv, ciphertext, tag, aad)
}
