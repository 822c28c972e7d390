package envelope

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/tap-labs/tap-go"
)

// aesKWDefaultIV is the RFC 3394 default initial value.
var aesKWDefaultIV = [8]byte{0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6, 0xa6}

// aesKWWrap implements RFC 3394 AES key wrap: kek must be a valid AES key
// (here always 32 bytes, A256KW), cek's length must be a multiple of 8
// bytes and at least 16. There is no key-wrap implementation in the
// reference corpus or golang.org/x/crypto; this is the standard algorithm
// built directly on crypto/aes block operations.
func aesKWWrap(kek, cek []byte) ([]byte, error) {
	if len(cek)%8 != 0 || len(cek) < 16 {
		return nil, tap.NewCryptoError("encrypt", "", "key wrap input must be a multiple of 8 bytes, >= 16", nil)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, tap.NewCryptoError("encrypt", "", "invalid key-wrap key", err)
	}

	n := len(cek) / 8
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), cek[i*8:(i+1)*8]...)
	}
	a := append([]byte(nil), aesKWDefaultIV[:]...)

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[:8], a)
			copy(buf[8:], r[i-1])
			block.Encrypt(buf, buf)
			t := uint64(n*j + i)
			a = xorUint64(buf[:8], t)
			r[i-1] = append([]byte(nil), buf[8:]...)
		}
	}

	out := make([]byte, 0, 8+len(cek))
	out = append(out, a...)
	for _, block := range r {
		out = append(out, block...)
	}
	return out, nil
}

// aesKWUnwrap reverses aesKWWrap, returning an error if the integrity
// check (the recovered A value against the default IV) fails.
func aesKWUnwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, tap.NewCryptoError("decrypt", "", "wrapped key has invalid length", nil)
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, tap.NewCryptoError("decrypt", "", "invalid key-wrap key", err)
	}

	n := len(wrapped)/8 - 1
	a := append([]byte(nil), wrapped[:8]...)
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), wrapped[(i+1)*8:(i+2)*8]...)
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			xored := xorUint64(a, t)
			copy(buf[:8], xored)
			copy(buf[8:], r[i-1])
			block.Decrypt(buf, buf)
			a = append([]byte(nil), buf[:8]...)
			r[i-1] = append([]byte(nil), buf[8:]...)
		}
	}

	for i, b := range a {
		if b != aesKWDefaultIV[i] {
			return nil, tap.NewCryptoError("decrypt", "", tap.ReasonDecryptionFailed, nil)
		}
	}

	out := make([]byte, 0, n*8)
	for _, block := range r {
		out = append(out, block...)
	}
	return out, nil
}

func xorUint64(a []byte, t uint64) []byte {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], t)
	out := make([]byte, 8)
	for i := range out {
		out[i] = a[i] ^ tb[i]
	}
	return out
}
