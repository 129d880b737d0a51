package textutil

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{in: "  Abyssal whip \n", expected: "Abyssal whip"},
		{in: "Tradeable:\n\t\tYes", expected: "Tradeable: Yes"},
		{in: "a\u0000b", expected: "ab"},
		{in: "", expected: ""},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, Clean(test.in))
	}
}

func TestIsPlaceholder(t *testing.T) {
	require.True(t, IsPlaceholder(""))
	require.True(t, IsPlaceholder("  "))
	require.True(t, IsPlaceholder(`\n`))
	require.False(t, IsPlaceholder("Yes"))
}

func TestCompareIDs(t *testing.T) {
	ids := []string{"100", "b", "9", "a", "10"}
	slices.SortFunc(ids, CompareIDs)
	require.Equal(t, []string{"9", "10", "100", "a", "b"}, ids)
}
