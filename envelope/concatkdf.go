package envelope

import (
	"crypto/sha256"
	"encoding/binary"
)

// concatKDF implements the Concatenation Key Derivation Function (NIST
// SP 800-56A section 5.8.1) the way RFC 7518 section 4.6.2 specifies for
// ECDH-ES/ECDH-1PU: repeated SHA-256 rounds over a round counter, the
// shared secret Z, and OtherInfo (alg, apu, apv, keydatalen, plus any extra
// suffix bytes; the callers in this package pass none).
func concatKDF(z []byte, keyDataLenBits int, algID, apu, apv []byte, extra ...[]byte) []byte {
	otherInfo := otherInfo(algID, apu, apv, keyDataLenBits, extra...)

	keyLenBytes := keyDataLenBits / 8
	out := make([]byte, 0, keyLenBytes)
	for counter := uint32(1); len(out) < keyLenBytes; counter++ {
		h := sha256.New()
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])
		h.Write(z)
		h.Write(otherInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out[:keyLenBytes]
}

func otherInfo(algID, apu, apv []byte, keyDataLenBits int, extra ...[]byte) []byte {
	buf := make([]byte, 0, 64)
	buf = appendLengthPrefixed(buf, algID)
	buf = appendLengthPrefixed(buf, apu)
	buf = appendLengthPrefixed(buf, apv)
	var suppPubInfo [4]byte
	binary.BigEndian.PutUint32(suppPubInfo[:], uint32(keyDataLenBits))
	buf = append(buf, suppPubInfo[:]...)
	for _, e := range extra {
		buf = append(buf, e...)
	}
	return buf
}

func appendLengthPrefixed(buf, data []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf = append(buf, length[:]...)
	buf = append(buf, data...)
	return buf
}
