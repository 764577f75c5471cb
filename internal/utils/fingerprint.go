package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const FingerprintSize = 16

// Fingerprint returns a keyed BLAKE2b digest of secret, hex encoded. It lets
// two sides compare a credential without either one holding the plaintext.
// An empty secret has an empty fingerprint.
func Fingerprint(key []byte, secret string) string {
	if secret == "" {
		return ""
	}
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	h, err := blake2b.New(FingerprintSize, key)
	if err != nil {
		// only reachable with an oversized key, which is folded above
		panic(err)
	}
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
