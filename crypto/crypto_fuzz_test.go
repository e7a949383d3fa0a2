package crypto

import (
	"bytes"
	"testing"
)

// FuzzCFBRoundTrip checks that every supported cipher decrypts what it
// encrypted.
func FuzzCFBRoundTrip(f *testing.F) {
	f.Add([]byte("Confirm body"), uint8(0))
	f.Add([]byte(""), uint8(1))
	f.Add(make([]byte, 100), uint8(2))

	ciphers := []string{"AES1", "AES3", "2FS1", "2FS3"}
	f.Fuzz(func(t *testing.T, plaintext []byte, which uint8) {
		if len(plaintext) > 4096 {
			return
		}
		name := ciphers[int(which)%len(ciphers)]
		n, err := CipherKeyLength(name)
		if err != nil {
			t.Fatal(err)
		}
		key := bytes.Repeat([]byte{0x5a}, n)
		iv := bytes.Repeat([]byte{0xa5}, CFBIVLength)

		ct, err := CFBEncrypt(name, key, iv, plaintext)
		if err != nil {
			t.Fatal(err)
		}
		pt, err := CFBDecrypt(name, key, iv, ct)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(plaintext, pt) {
			t.Errorf("%s round trip mismatch", name)
		}
	})
}

// FuzzPeerPublicValue feeds arbitrary peer values to every group. Bad
// values must be rejected with an error, never a panic.
func FuzzPeerPublicValue(f *testing.F) {
	f.Add([]byte{}, uint8(0))
	f.Add([]byte{1}, uint8(1))
	f.Add(make([]byte, 64), uint8(2))
	f.Add(bytes.Repeat([]byte{0xff}, 256), uint8(3))

	groups := []string{"DH2k", "DH3k", "EC25", "EC38", "E255"}
	keys := make(map[string]DHPrivateKey, len(groups))
	for _, name := range groups {
		g, err := DHGroupFor(name)
		if err != nil {
			f.Fatal(err)
		}
		k, err := g.GenerateKey(RandomSource(nil))
		if err != nil {
			f.Fatal(err)
		}
		keys[name] = k
	}

	f.Fuzz(func(t *testing.T, peer []byte, which uint8) {
		name := groups[int(which)%len(groups)]
		_, _ = keys[name].SharedSecret(peer)
	})
}

// FuzzWipe checks that Wipe zeroes any input.
func FuzzWipe(f *testing.F) {
	f.Add([]byte{1, 2, 3})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		c := Clone(data)
		Wipe(c)
		for i, b := range c {
			if b != 0 {
				t.Fatalf("byte %d not wiped", i)
			}
		}
	})
}
