package signature

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Verify checks sigHex (DER-encoded ECDSA) against the SHA-256 hash of the
// canonical bytes, using the secp256k1 public key in pubkeyHex (compressed or
// uncompressed). Every parse or verification failure reports false; a
// malformed key or signature is never fatal.
func Verify(pubkeyHex string, canonical []byte, sigHex string) bool {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}

	hash := sha256.Sum256(canonical)
	return sig.Verify(hash[:], pubKey)
}
