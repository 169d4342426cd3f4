package bitfs

// Keystream is a precomputed XOR table derived from the user secret, kept
// in memory only and applied to every data payload at block granularity.
//
// Unlike the original design (which required len(secret) to be a power of
// two so it could index with a bitmask), this implementation indexes with
// a modulus, so any non-empty secret works. See SPEC_FULL.md Open Question
// #3.
type Keystream struct {
	table []byte
}

// NewKeystream derives a table of length size from secret. secret must be
// non-empty.
func NewKeystream(secret []byte, size int) *Keystream {
	table := make([]byte, size)
	n := len(secret)
	for i := range table {
		table[i] = secret[i%n]
	}
	return &Keystream{table: table}
}

// Encrypt XORs buf in place against the keystream table, starting at
// offset 0 of the table. It is its own inverse: calling it twice with the
// same table restores the original bytes.
func (k *Keystream) Encrypt(buf []byte) {
	for i := range buf {
		buf[i] ^= k.table[i]
	}
}
