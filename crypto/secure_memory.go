package crypto

import "runtime"

// Wipe overwrites every given slice with zeros. Nil slices are skipped.
func Wipe(secrets ...[]byte) {
	for _, s := range secrets {
		if s == nil {
			continue
		}
		for i := range s {
			s[i] = 0
		}
		runtime.KeepAlive(s)
	}
}

// Clone returns a copy of b, or nil for an empty slice. Callers keep key
// material in owned copies so that wiping one holder never corrupts another.
func Clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
