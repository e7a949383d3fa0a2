package limits

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePeerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid", input: "Alice's phone"},
		{name: "empty", input: "", wantErr: ErrEmpty},
		{name: "too long", input: strings.Repeat("a", MaxPeerNameLength+1), wantErr: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	assert.Error(t, ValidatePeerName(string([]byte{0xff, 0xfe})))
}

func TestClientID(t *testing.T) {
	id := ClientID("GoZRTP")
	assert.Equal(t, "GoZRTP          ", string(id[:]))

	long := ClientID("a client id that is far too long")
	assert.Equal(t, "a client id that", string(long[:]))
}

func TestValidateSize(t *testing.T) {
	assert.ErrorIs(t, ValidateSize(nil, 10), ErrEmpty)
	assert.ErrorIs(t, ValidateSize(make([]byte, 11), 10), ErrTooLarge)
	assert.NoError(t, ValidateSize(make([]byte, 10), 10))
}
