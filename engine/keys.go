package engine

import (
	"bytes"
	"encoding/binary"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/interfaces"
	"github.com/opd-ai/zrtp/packet"
)

// KDF labels.
const (
	labelSessionKey     = "ZRTP Session Key"
	labelSAS            = "SAS"
	labelSRTPKeyI       = "Initiator SRTP master key"
	labelSRTPSaltI      = "Initiator SRTP master salt"
	labelSRTPKeyR       = "Responder SRTP master key"
	labelSRTPSaltR      = "Responder SRTP master salt"
	labelMACKeyI        = "Initiator HMAC key"
	labelMACKeyR        = "Responder HMAC key"
	labelZRTPKeyI       = "Initiator ZRTP key"
	labelZRTPKeyR       = "Responder ZRTP key"
	labelRetainedSecret = "retained secret"
	labelExportedKey    = "Exported key"
	labelTrustedMiTMKey = "Trusted MiTM key"
	labelMultiStreamKey = "ZRTP MSK"
	labelS0             = "ZRTP-HMAC-KDF"
	roleLabelInitiator  = "Initiator"
	roleLabelResponder  = "Responder"
	retainedSecretBits  = 256
	srtpSaltBits        = 112
	sasHashBits         = 256
	hviLength           = packet.HVILength
	goClearMACInput     = string(packet.TypeGoClear)
)

// sessionKeys is everything derived from s0 for one negotiation.
type sessionKeys struct {
	s0         []byte
	sessionKey []byte
	sasHash    []byte
	exported   []byte
	newRS      []byte
	mitmKey    []byte

	srtpKeyI, srtpSaltI []byte
	srtpKeyR, srtpSaltR []byte
	macKeyI, macKeyR    []byte
	zrtpKeyI, zrtpKeyR  []byte
}

// kdfContext is ZIDi || ZIDr || total_hash.
func kdfContext(zidi, zidr packet.ZID, totalHash []byte) []byte {
	ctx := make([]byte, 0, 2*packet.ZIDLength+len(totalHash))
	ctx = append(ctx, zidi[:]...)
	ctx = append(ctx, zidr[:]...)
	return append(ctx, totalHash...)
}

// computeS0 combines the DH result with the shared secrets:
//
//	s0 = hash(1 || DHResult || "ZRTP-HMAC-KDF" || ZIDi || ZIDr || total_hash ||
//	          len(s1) || s1 || len(s2) || s2 || len(s3) || s3)
//
// Absent secrets contribute a zero length and no bytes.
func computeS0(h *crypto.Hash, dhResult []byte, zidi, zidr packet.ZID, totalHash, s1, s2, s3 []byte) []byte {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)

	parts := [][]byte{counter[:], dhResult, []byte(labelS0), zidi[:], zidr[:], totalHash}
	for _, s := range [][]byte{s1, s2, s3} {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		parts = append(parts, l[:], s)
	}
	return h.Sum(parts...)
}

// multiStreamS0 derives s0 for a multistream session from the master
// stream's ZRTP session key.
func multiStreamS0(h *crypto.Hash, sessionKey, kdfCtx []byte) []byte {
	return h.KDF(sessionKey, labelMultiStreamKey, kdfCtx, h.Size()*8)
}

// deriveKeys runs the KDF for every key of the session.
func deriveKeys(h *crypto.Hash, s0, kdfCtx []byte, cipherKeyLen int) *sessionKeys {
	hashBits := h.Size() * 8
	keyBits := cipherKeyLen * 8
	return &sessionKeys{
		s0:         crypto.Clone(s0),
		sessionKey: h.KDF(s0, labelSessionKey, kdfCtx, hashBits),
		sasHash:    h.KDF(s0, labelSAS, kdfCtx, sasHashBits),
		exported:   h.KDF(s0, labelExportedKey, kdfCtx, hashBits),
		newRS:      h.KDF(s0, labelRetainedSecret, kdfCtx, retainedSecretBits),
		mitmKey:    h.KDF(s0, labelTrustedMiTMKey, kdfCtx, retainedSecretBits),
		srtpKeyI:   h.KDF(s0, labelSRTPKeyI, kdfCtx, keyBits),
		srtpSaltI:  h.KDF(s0, labelSRTPSaltI, kdfCtx, srtpSaltBits),
		srtpKeyR:   h.KDF(s0, labelSRTPKeyR, kdfCtx, keyBits),
		srtpSaltR:  h.KDF(s0, labelSRTPSaltR, kdfCtx, srtpSaltBits),
		macKeyI:    h.KDF(s0, labelMACKeyI, kdfCtx, hashBits),
		macKeyR:    h.KDF(s0, labelMACKeyR, kdfCtx, hashBits),
		zrtpKeyI:   h.KDF(s0, labelZRTPKeyI, kdfCtx, keyBits),
		zrtpKeyR:   h.KDF(s0, labelZRTPKeyR, kdfCtx, keyBits),
	}
}

// sasValue returns the leftmost 32 bits of the SAS hash.
func (k *sessionKeys) sasValue() []byte {
	return k.sasHash[:crypto.SASValueLength]
}

// macKey returns the HMAC key of the given role.
func (k *sessionKeys) macKey(r Role) []byte {
	if r == Initiator {
		return k.macKeyI
	}
	return k.macKeyR
}

// zrtpKey returns the Confirm/SASrelay encryption key of the given role.
func (k *sessionKeys) zrtpKey(r Role) []byte {
	if r == Initiator {
		return k.zrtpKeyI
	}
	return k.zrtpKeyR
}

func (k *sessionKeys) srtpSecrets(cipher, auth string, role Role) *interfaces.SRTPSecrets {
	return &interfaces.SRTPSecrets{
		Cipher:        cipher,
		AuthTag:       auth,
		KeyInitiator:  crypto.Clone(k.srtpKeyI),
		SaltInitiator: crypto.Clone(k.srtpSaltI),
		KeyResponder:  crypto.Clone(k.srtpKeyR),
		SaltResponder: crypto.Clone(k.srtpSaltR),
		Initiator:     role == Initiator,
	}
}

func (k *sessionKeys) wipe() {
	crypto.Wipe(k.s0, k.sessionKey, k.sasHash, k.exported, k.newRS, k.mitmKey,
		k.srtpKeyI, k.srtpSaltI, k.srtpKeyR, k.srtpSaltR,
		k.macKeyI, k.macKeyR, k.zrtpKeyI, k.zrtpKeyR)
}

func roleLabel(r Role) string {
	if r == Initiator {
		return roleLabelInitiator
	}
	return roleLabelResponder
}

// secretIDs holds the IDs one side sends in its DHPart.
type secretIDs struct {
	rs1, rs2, aux, pbx []byte
}

// sharedSecrets are the local candidates for s1, s2 and s3.
type sharedSecrets struct {
	rs1, rs2 []byte
	aux      []byte
	pbx      []byte
}

// ids computes the secret IDs sent by role. Missing secrets are replaced by
// random values so that they never match.
func (s *sharedSecrets) ids(h *crypto.Hash, role Role, ownH3 []byte, random func(int) []byte) secretIDs {
	label := []byte(roleLabel(role))
	id := func(secret []byte, data []byte) []byte {
		if len(secret) == 0 {
			return random(packet.SecretIDLength)
		}
		return h.MAC64(secret, data)
	}
	return secretIDs{
		rs1: id(s.rs1, label),
		rs2: id(s.rs2, label),
		aux: id(s.aux, ownH3),
		pbx: id(s.pbx, label),
	}
}

// secretMatch is the outcome of comparing the peer's secret IDs with ours.
type secretMatch struct {
	s1, s2, s3 []byte
	// mismatch is set when we hold a retained secret but none matched.
	mismatch bool
}

// match selects s1, s2 and s3 from the peer's DHPart. peerRole is the role
// of the sender of peer; peerH3 is its H3.
//
// s1 is taken in this order: initiator rs1 = responder rs1, initiator rs1 =
// responder rs2, initiator rs2 = responder rs1, initiator rs2 = responder rs2.
// Both sides evaluate the same equations, so they pick the same secret.
func (s *sharedSecrets) match(h *crypto.Hash, peer *packet.DHPart, peerRole Role, peerH3 []byte) secretMatch {
	label := []byte(roleLabel(peerRole))
	mine := func(secret []byte) []byte {
		if len(secret) == 0 {
			return nil
		}
		return h.MAC64(secret, label)
	}
	eq := func(a, b []byte) bool { return a != nil && bytes.Equal(a, b) }

	var m secretMatch
	my1, my2 := mine(s.rs1), mine(s.rs2)

	// Candidates in the fixed order, expressed from the local side.
	type candidate struct {
		local []byte
		ok    bool
	}
	var cands []candidate
	if peerRole == Initiator {
		cands = []candidate{
			{s.rs1, eq(my1, peer.RS1ID)},
			{s.rs2, eq(my2, peer.RS1ID)},
			{s.rs1, eq(my1, peer.RS2ID)},
			{s.rs2, eq(my2, peer.RS2ID)},
		}
	} else {
		cands = []candidate{
			{s.rs1, eq(my1, peer.RS1ID)},
			{s.rs1, eq(my1, peer.RS2ID)},
			{s.rs2, eq(my2, peer.RS1ID)},
			{s.rs2, eq(my2, peer.RS2ID)},
		}
	}
	for _, c := range cands {
		if c.ok {
			m.s1 = c.local
			break
		}
	}
	if m.s1 == nil && (len(s.rs1) > 0 || len(s.rs2) > 0) {
		m.mismatch = true
	}

	if len(s.aux) > 0 && eq(h.MAC64(s.aux, peerH3), peer.AuxSecretID) {
		m.s2 = s.aux
	}
	if p := mine(s.pbx); eq(p, peer.PBXSecretID) {
		m.s3 = s.pbx
	}
	return m
}

// hvi is hash(DHPart2 || Hello of responder), truncated to 256 bits.
func hvi(h *crypto.Hash, dhPart2, responderHello []byte) []byte {
	return h.Sum(dhPart2, responderHello)[:hviLength]
}

// totalHash is hash(Hello of responder || Commit || DHPart1 || DHPart2); in
// multistream mode the DHParts are absent.
func totalHash(h *crypto.Hash, messages ...[]byte) []byte {
	return h.Sum(messages...)
}

// hashChain returns H1, H2 and H3 for H0.
func hashChain(h0 []byte) (h1, h2, h3 []byte) {
	sha := crypto.SHA256()
	h1 = sha.Sum(h0)
	h2 = sha.Sum(h1)
	h3 = sha.Sum(h2)
	return h1, h2, h3
}
