package bitfs

import (
	"bytes"
	"testing"
)

func TestKeystreamEncryptIsInvolution(t *testing.T) {
	k := NewKeystream([]byte("correct horse battery staple"), blockSize)

	original := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, blockSize/4)
	buf := append([]byte(nil), original...)

	k.Encrypt(buf)
	if bytes.Equal(buf, original) {
		t.Fatal("encrypt left buffer unchanged against a non-trivial keystream")
	}

	k.Encrypt(buf)
	if !bytes.Equal(buf, original) {
		t.Fatal("applying Encrypt twice did not restore the original bytes")
	}
}

func TestKeystreamAcceptsNonPowerOfTwoSecret(t *testing.T) {
	// len("abc") == 3, not a power of two; the original Rust design required
	// power-of-two secrets so it could index with a bitmask (Open Question
	// #3). This implementation indexes with a modulus instead.
	k := NewKeystream([]byte("abc"), 10)
	buf := make([]byte, 10)
	k.Encrypt(buf) // must not panic
}

func TestKeystreamDifferentSecretsDiverge(t *testing.T) {
	a := NewKeystream([]byte("secret-one"), blockSize)
	b := NewKeystream([]byte("secret-two"), blockSize)

	payload := bytes.Repeat([]byte{0x42}, 64)
	bufA := append([]byte(nil), payload...)
	bufB := append([]byte(nil), payload...)

	a.Encrypt(bufA)
	b.Encrypt(bufB)

	if bytes.Equal(bufA, bufB) {
		t.Fatal("two different secrets produced identical ciphertext")
	}
}
