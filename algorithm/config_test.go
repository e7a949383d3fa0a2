package algorithm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardConfiguration(t *testing.T) {
	c := NewStandardConfiguration()
	require.NoError(t, c.Validate())

	assert.Equal(t, []Name{S384, S256}, c.List(Hash))
	assert.Equal(t, []Name{EC25, E255, DH3k, EC38, Mult}, c.List(KeyAgreement))
	assert.True(t, c.Contains(SASType, B32))
	assert.Contains(t, c.String(), "sas=B32,B256")
}

func TestMandatoryConfiguration(t *testing.T) {
	c := NewMandatoryConfiguration()
	require.NoError(t, c.Validate())
	for _, cat := range Categories {
		assert.Equal(t, Mandatory(cat), c.List(cat), cat.String())
	}
}

func TestConfiguration_AddRemove(t *testing.T) {
	c := NewConfiguration()

	require.NoError(t, c.Add(Hash, S256))
	require.NoError(t, c.Add(Hash, S256))
	assert.Equal(t, []Name{S256}, c.List(Hash))

	err := c.Add(Hash, "SKN2")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	err = c.Add(Cipher, S256)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	require.NoError(t, c.Add(Cipher, AES3))
	require.NoError(t, c.Add(Cipher, AES1))
	c.Remove(Cipher, AES3)
	assert.Equal(t, []Name{AES1}, c.List(Cipher))

	c.Clear(Cipher)
	assert.Empty(t, c.List(Cipher))
	assert.Error(t, c.Validate())
}

func TestConfiguration_CloneIsIndependent(t *testing.T) {
	c := NewStandardConfiguration()
	clone := c.Clone()
	c.Remove(Hash, S384)

	assert.Equal(t, []Name{S384, S256}, clone.List(Hash))
	assert.Equal(t, []Name{S256}, c.List(Hash))
}

func TestConfiguration_Supports(t *testing.T) {
	c := NewConfiguration()
	require.NoError(t, c.Add(KeyAgreement, EC38))

	assert.True(t, c.Supports(KeyAgreement, EC38))
	assert.True(t, c.Supports(KeyAgreement, DH3k), "mandatory algorithms are implied")
	assert.False(t, c.Supports(KeyAgreement, EC25))
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name      string
		cat       Category
		preferred []Name
		peer      []Name
		want      Name
		wantErr   bool
	}{
		{
			name:      "initiator priority wins",
			cat:       KeyAgreement,
			preferred: []Name{EC25, DH3k},
			peer:      []Name{DH3k, EC25},
			want:      EC25,
		},
		{
			name:      "falls through to common entry",
			cat:       Cipher,
			preferred: []Name{TwoFS3, AES3},
			peer:      []Name{AES3},
			want:      AES3,
		},
		{
			name:      "mandatory implied in peer offer",
			cat:       Hash,
			preferred: []Name{S384, S256},
			peer:      []Name{},
			want:      S256,
		},
		{
			name:      "no overlap",
			cat:       KeyAgreement,
			preferred: []Name{EC38},
			peer:      []Name{EC25},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.cat, tt.preferred, tt.peer)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoCommonAlgorithm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestName_WireAndTrim(t *testing.T) {
	w := B32.Wire()
	assert.Equal(t, [4]byte{'B', '3', '2', ' '}, w)
	assert.Equal(t, B32, FromWire(w[:]))
	assert.Equal(t, "B32", B32.Trimmed())
	assert.True(t, DH3k.IsDH())
	assert.False(t, Mult.IsDH())
}
