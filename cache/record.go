package cache

import (
	"time"

	"github.com/opd-ai/zrtp/crypto"
	"github.com/opd-ai/zrtp/packet"
)

// RetainedSecretLength is the length of RS1 and RS2.
const RetainedSecretLength = 32

// Record is the cached trust state for one peer ZID.
//
// A zero expiry time means the secret never expires. Records handed out by
// a Cache are copies; changes take effect only through SaveRecord or Update.
type Record struct {
	ZID         packet.ZID `json:"zid"`
	RS1         []byte     `json:"rs1,omitempty"`
	RS1Expires  time.Time  `json:"rs1_expires"`
	RS2         []byte     `json:"rs2,omitempty"`
	RS2Expires  time.Time  `json:"rs2_expires"`
	Verified    bool       `json:"sas_verified"`
	SecureSince time.Time  `json:"secure_since"`
	LastUse     time.Time  `json:"last_use"`
	Name        string     `json:"name,omitempty"`
	MiTMKey     []byte     `json:"mitm_key,omitempty"`
}

// NewRecord returns an empty record stamped secure-since now.
func NewRecord(zid packet.ZID, now time.Time) *Record {
	return &Record{ZID: zid, SecureSince: now}
}

// SetNewRS1 rotates the retained secrets: the current RS1 becomes RS2 and
// rs becomes RS1. A zero expires keeps the secret forever.
func (r *Record) SetNewRS1(rs []byte, expires time.Time) {
	crypto.Wipe(r.RS2)
	r.RS2, r.RS2Expires = r.RS1, r.RS1Expires
	r.RS1, r.RS1Expires = crypto.Clone(rs), expires
}

// RS1Valid reports whether RS1 is set and not expired at now.
func (r *Record) RS1Valid(now time.Time) bool {
	return secretValid(r.RS1, r.RS1Expires, now)
}

// RS2Valid reports whether RS2 is set and not expired at now.
func (r *Record) RS2Valid(now time.Time) bool {
	return secretValid(r.RS2, r.RS2Expires, now)
}

func secretValid(rs []byte, expires time.Time, now time.Time) bool {
	if len(rs) != RetainedSecretLength {
		return false
	}
	return expires.IsZero() || now.Before(expires)
}

// SASVerified reports whether the user has verified the SAS with this peer.
func (r *Record) SASVerified() bool { return r.Verified }

// SetSASVerified marks the peer as verified.
func (r *Record) SetSASVerified() { r.Verified = true }

// ResetSASVerified clears the verified flag.
func (r *Record) ResetSASVerified() { r.Verified = false }

// HasMiTMKey reports whether the peer is enrolled as a trusted MiTM (PBX).
func (r *Record) HasMiTMKey() bool { return len(r.MiTMKey) > 0 }

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	out.RS1 = crypto.Clone(r.RS1)
	out.RS2 = crypto.Clone(r.RS2)
	out.MiTMKey = crypto.Clone(r.MiTMKey)
	return &out
}

// wipe clears all secrets held by the record.
func (r *Record) wipe() {
	crypto.Wipe(r.RS1, r.RS2, r.MiTMKey)
}
