package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geyserpipe/geyserpipe/pkg/api"
)

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		programs []string
		accounts []string
		expected string
	}{
		{
			name:     "base http url gets stream path and ws scheme",
			endpoint: "http://127.0.0.1:8080",
			expected: "ws://127.0.0.1:8080/api/v1/stream",
		},
		{
			name:     "https maps to wss",
			endpoint: "https://geyser.example.com/",
			expected: "wss://geyser.example.com/api/v1/stream",
		},
		{
			name:     "explicit ws url kept as is",
			endpoint: "ws://localhost:8080/api/v1/stream",
			expected: "ws://localhost:8080/api/v1/stream",
		},
		{
			name:     "program filter becomes query parameter",
			endpoint: "http://localhost:8080",
			programs: []string{"11111111111111111111111111111111"},
			expected: "ws://localhost:8080/api/v1/stream?programs=11111111111111111111111111111111",
		},
		{
			name:     "both filters joined with commas",
			endpoint: "http://localhost:8080",
			programs: []string{"a", "b"},
			accounts: []string{"c"},
			expected: "ws://localhost:8080/api/v1/stream?accounts=c&programs=a%2Cb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := streamURL(tt.endpoint, tt.programs, tt.accounts)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestStreamURL_UnsupportedScheme(t *testing.T) {
	_, err := streamURL("ftp://localhost", nil, nil)
	require.ErrorContains(t, err, "unsupported endpoint scheme")
}

func TestFormatUpdate(t *testing.T) {
	u := &api.StreamUpdate{
		Account:      "acc",
		Owner:        "own",
		Lamports:     42,
		Data:         []byte{1, 2, 3},
		Slot:         100,
		WriteVersion: 7,
	}
	require.Equal(t, "slot=100 wv=7 account=acc owner=own lamports=42 data=3B", formatUpdate(u))

	u.Deleted = true
	require.Equal(t, "slot=100 wv=7 account=acc owner=own lamports=42 data=3B deleted", formatUpdate(u))
}
