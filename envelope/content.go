package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tap-labs/tap-go"
)

// ContentAlg identifies a JWE content-encryption algorithm.
type ContentAlg string

const (
	ContentA256GCM   ContentAlg = "A256GCM"
	ContentA256CBCHS ContentAlg = "A256CBC-HS512"
	ContentXC20P     ContentAlg = "XC20P"
)

// cekSizeBits returns the content-encryption key size this algorithm
// requires: A256CBC-HS512 uses a 512-bit key split into two 256-bit MAC
// and encryption halves (RFC 7518 section 5.2.5); the others use a single
// 256-bit key.
func cekSizeBits(alg ContentAlg) int {
	if alg == ContentA256CBCHS {
		return 512
	}
	return 256
}

// contentEncrypt encrypts plaintext under cek, authenticating aad, and
// returns (iv, ciphertext, tag).
func contentEncrypt(alg ContentAlg, cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	switch alg {
	case ContentA256GCM:
		return gcmEncrypt(cek, plaintext, aad)
	case ContentXC20P:
		return xc20pEncrypt(cek, plaintext, aad)
	case ContentA256CBCHS:
		return cbcHSEncrypt(cek, plaintext, aad)
	default:
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "unsupported content alg "+string(alg), nil)
	}
}

func contentDecrypt(alg ContentAlg, cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	switch alg {
	case ContentA256GCM:
		return gcmDecrypt(cek, iv, ciphertext, tag, aad)
	case ContentXC20P:
		return xc20pDecrypt(cek, iv, ciphertext, tag, aad)
	case ContentA256CBCHS:
		return cbcHSDecrypt(cek, iv, ciphertext, tag, aad)
	default:
		return nil, tap.NewCryptoError("decrypt", "", "unsupported content alg "+string(alg), nil)
	}
}

func gcmEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "invalid A256GCM key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "gcm init failed", err)
	}
	iv = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "iv generation failed", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ct, t := splitTag(sealed, gcm.Overhead())
	return iv, ct, t, nil
}

func gcmDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "invalid A256GCM key", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "gcm init failed", err)
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	pt, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", tap.ReasonDecryptionFailed, err)
	}
	return pt, nil
}

func xc20pEncrypt(key, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "invalid XC20P key", err)
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "iv generation failed", err)
	}
	sealed := aead.Seal(nil, iv, plaintext, aad)
	ct, t := splitTag(sealed, aead.Overhead())
	return iv, ct, t, nil
}

func xc20pDecrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "invalid XC20P key", err)
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	pt, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", tap.ReasonDecryptionFailed, err)
	}
	return pt, nil
}

// cbcHSEncrypt implements A256CBC-HS512 (RFC 7518 section 5.2.2.1):
// AES-256-CBC with PKCS#7 padding, authenticated with an
// HMAC-SHA512-truncated-to-256-bits tag over aad||iv||ciphertext||aadlen.
func cbcHSEncrypt(cek, plaintext, aad []byte) (iv, ciphertext, tag []byte, err error) {
	macKey, encKey := cek[:32], cek[32:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "invalid A256CBC-HS512 key", err)
	}
	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, tap.NewCryptoError("encrypt", "", "iv generation failed", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag = cbcHSTag(macKey, aad, iv, ciphertext)
	return iv, ciphertext, tag, nil
}

func cbcHSDecrypt(cek, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	macKey, encKey := cek[:32], cek[32:]

	expected := cbcHSTag(macKey, aad, iv, ciphertext)
	if !hmac.Equal(expected, tag) {
		return nil, tap.NewCryptoError("decrypt", "", tap.ReasonDecryptionFailed, nil)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "invalid A256CBC-HS512 key", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, tap.NewCryptoError("decrypt", "", "ciphertext not block aligned", nil)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func cbcHSTag(macKey, aad, iv, ciphertext []byte) []byte {
	al := make([]byte, 8)
	binary.BigEndian.PutUint64(al, uint64(len(aad))*8)

	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al)
	return mac.Sum(nil)[:32]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, tap.NewCryptoError("decrypt", "", "empty padded plaintext", nil)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, tap.NewCryptoError("decrypt", "", "invalid padding", nil)
	}
	return data[:len(data)-padLen], nil
}

func splitTag(sealed []byte, overhead int) (ciphertext, tag []byte) {
	n := len(sealed) - overhead
	return sealed[:n], sealed[n:]
}
