// Package xxtea implements the corrected block TEA cipher over raw,
// unpadded byte blocks.
//
// The camera handshake exchanges fixed 16-byte blocks with no length
// framing, so the usual library variants (which prepend the plaintext
// length to the final word) cannot be used here. This is the classic
// 6+52/n round schedule with DELTA 0x9E3779B9, operating little-endian.
package xxtea

import (
	"encoding/binary"
	"fmt"
)

const delta = 0x9E3779B9

// Encrypt applies XXTEA to data using a 16-byte key. The data length
// must be a multiple of 4 and at least 8 bytes.
func Encrypt(data, key []byte) ([]byte, error) {
	v, err := toUint32s(data)
	if err != nil {
		return nil, err
	}
	k, err := keyWords(key)
	if err != nil {
		return nil, err
	}

	n := len(v)
	rounds := 6 + 52/n
	var sum uint32
	z := v[n-1]
	for i := 0; i < rounds; i++ {
		sum += delta
		e := (sum >> 2) & 3
		var y uint32
		for p := 0; p < n-1; p++ {
			y = v[p+1]
			v[p] += mx(sum, y, z, uint32(p), e, k)
			z = v[p]
		}
		y = v[0]
		v[n-1] += mx(sum, y, z, uint32(n-1), e, k)
		z = v[n-1]
	}
	return fromUint32s(v), nil
}

// Decrypt reverses Encrypt for the same key.
func Decrypt(data, key []byte) ([]byte, error) {
	v, err := toUint32s(data)
	if err != nil {
		return nil, err
	}
	k, err := keyWords(key)
	if err != nil {
		return nil, err
	}

	n := len(v)
	rounds := 6 + 52/n
	sum := uint32(rounds) * delta
	y := v[0]
	for i := 0; i < rounds; i++ {
		e := (sum >> 2) & 3
		var z uint32
		for p := n - 1; p > 0; p-- {
			z = v[p-1]
			v[p] -= mx(sum, y, z, uint32(p), e, k)
			y = v[p]
		}
		z = v[n-1]
		v[0] -= mx(sum, y, z, 0, e, k)
		y = v[0]
		sum -= delta
	}
	return fromUint32s(v), nil
}

func mx(sum, y, z, p, e uint32, k [4]uint32) uint32 {
	return ((z>>5 ^ y<<2) + (y>>3 ^ z<<4)) ^ ((sum ^ y) + (k[(p&3)^e] ^ z))
}

func toUint32s(data []byte) ([]uint32, error) {
	if len(data) < 8 || len(data)%4 != 0 {
		return nil, fmt.Errorf("xxtea: data length %d not a multiple of 4 (min 8)", len(data))
	}
	v := make([]uint32, len(data)/4)
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return v, nil
}

func fromUint32s(v []uint32) []byte {
	out := make([]byte, len(v)*4)
	for i, w := range v {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func keyWords(key []byte) ([4]uint32, error) {
	var k [4]uint32
	if len(key) != 16 {
		return k, fmt.Errorf("xxtea: key must be 16 bytes, got %d", len(key))
	}
	for i := range k {
		k[i] = binary.LittleEndian.Uint32(key[i*4:])
	}
	return k, nil
}
