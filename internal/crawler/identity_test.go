package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProductID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "https://example.com/honda-genuine-accessories/08l78mkse00", want: "08l78mkse00"},
		{in: "https://example.com/08l78mkse00", want: "08l78mkse00"},
		{in: "https://example.com/parts/08L78-MKS-E00/", want: "08l78mkse00"},
		{in: "https://example.com/p/cb125f.html", want: "cb125f"},
		{in: "https://example.com/honda-genuine-accessories", want: ""},
		{in: "https://example.com/motorcycles/adventure-touring-bikes-2024", want: ""},
		{in: "https://example.com/about", want: ""},
		{in: "https://example.com/p/a1", want: ""},
		{in: "https://example.com/p/abcdefghijklmnopqrstu1", want: ""},
		{in: "https://example.com/", want: ""},
		{in: "https://example.com/p/caf%C3%A91234", want: ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ProductID(tt.in), "url %q", tt.in)
	}
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "08l78mkse00", NormalizeID("08L78-MKS-E00"))
	require.Equal(t, "cb125f", NormalizeID(" CB 125 F "))
	require.Empty(t, NormalizeID("--"))
}
