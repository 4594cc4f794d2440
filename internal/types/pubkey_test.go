package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePubkey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "valid system program",
			input:   "11111111111111111111111111111111",
			wantErr: false,
		},
		{
			name:    "valid token program",
			input:   "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
			wantErr: false,
		},
		{
			name:    "invalid characters",
			input:   "not-a-pubkey!!",
			wantErr: true,
		},
		{
			name:    "wrong length",
			input:   "abc",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, err := ParsePubkey(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.input, pk.String())
		})
	}
}

func TestPubkey_RoundTrip(t *testing.T) {
	raw := make([]byte, PubkeyLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}

	pk, err := PubkeyFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, raw, pk.Bytes())

	parsed, err := ParsePubkey(pk.String())
	require.NoError(t, err)
	require.Equal(t, pk, parsed)
}

func TestPubkey_FromBytesWrongLength(t *testing.T) {
	_, err := PubkeyFromBytes([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestPubkey_IsZero(t *testing.T) {
	var zero Pubkey
	require.True(t, zero.IsZero())

	pk, err := ParsePubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	require.NoError(t, err)
	require.False(t, pk.IsZero())
}

func TestPubkey_TextMarshalling(t *testing.T) {
	pk, err := ParsePubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	require.NoError(t, err)

	text, err := pk.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", string(text))

	var decoded Pubkey
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, pk, decoded)
}
