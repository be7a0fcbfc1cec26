package mesh

import "crypto/ed25519"

// edVerify is a small convenience wrapper so callers don't repeatedly spell
// out the PubKey/Signature-to-slice conversions.
func edVerify(pub PubKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(pub.Bytes(), msg, sig[:])
}
