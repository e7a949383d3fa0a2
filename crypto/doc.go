// Package crypto implements the cryptographic primitives used by ZRTP.
//
// The package is a leaf: it knows nothing about ZRTP messages or state and
// works purely on byte slices and the four-character algorithm names that
// appear on the wire. Higher layers (package engine) select the primitives
// by the names negotiated in Hello/Commit.
//
// # Hashes, HMAC and the KDF
//
// [HashFor] returns a [Hash] for "S256" (SHA-256) or "S384" (SHA-384). A
// [Hash] computes plain digests, HMACs, truncated 64-bit MACs and the ZRTP
// key derivation function:
//
//	h, _ := crypto.HashFor("S256")
//	s0 := h.Sum(counter, dhResult, []byte("ZRTP-HMAC-KDF"), zidi, zidr, totalHash)
//	sasHash := h.KDF(s0, "SAS", kdfContext, 256)
//
// # Block ciphers
//
// Confirm and SASrelay bodies are encrypted with a 128-bit CFB mode of the
// negotiated cipher. [CFBEncrypt] and [CFBDecrypt] accept "AES1", "AES3",
// "2FS1" and "2FS3".
//
// # Key agreement
//
// [DHGroupFor] returns the Diffie-Hellman group for "DH2k", "DH3k", "EC25",
// "EC38" or "E255":
//
//	group, _ := crypto.DHGroupFor("EC25")
//	priv, _ := group.GenerateKey(rand.Reader)
//	defer priv.Wipe()
//	shared, err := priv.SharedSecret(peerPublicValue)
//
// Degenerate or off-curve peer values are rejected with [ErrBadPublicValue].
//
// # SAS rendering
//
// [RenderSAS] renders the leftmost bits of the SAS hash as four base-32
// characters ("B32") or as two PGP words ("B256").
//
// # Memory hygiene
//
// [Wipe] overwrites key material once it is no longer needed. Logging of
// secrets goes through [SecureFieldHash], which logs a truncated SHA-256
// digest and the length, never the bytes.
package crypto
