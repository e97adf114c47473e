package manifest

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChecksumInference(t *testing.T) {
	tests := []struct {
		in   string
		algo string
	}{
		{strings.Repeat("a", 32), "md5"},
		{strings.Repeat("b", 64), "sha256"},
		{strings.Repeat("c", 128), "sha512"},
		{"sha1:" + strings.Repeat("d", 40), "sha1"},
		{"BLAKE3:" + strings.Repeat("e", 64), "blake3"},
		{"  sha256:" + strings.Repeat("F", 64) + "\n", "sha256"},
	}
	for _, tt := range tests {
		c, err := ParseChecksum(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.algo, c.Algorithm)
		assert.Equal(t, c.Hex(), strings.ToLower(c.Hex()))
	}

	for _, in := range []string{"", "abc", strings.Repeat("z", 64), "md5:" + strings.Repeat("a", 64), "crc:00"} {
		_, err := ParseChecksum(in)
		assert.Error(t, err, in)
	}
}

func TestChecksumMatches(t *testing.T) {
	data := "hello\n"
	tests := []string{
		"md5:b1946ac92492d2347c6235b4d2611184",
		"sha1:f572d396fae9206628714fb2ce00f72e94f2258f",
		"sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03",
	}
	for _, s := range tests {
		c, err := ParseChecksum(s)
		require.NoError(t, err)
		h := c.New()
		_, _ = io.WriteString(h, data)
		assert.True(t, c.Matches(h.Sum(nil)), s)
		assert.Equal(t, s, c.String())
		assert.Len(t, c.Short(), 12)
	}
}

func TestBlake3(t *testing.T) {
	c, err := ParseChecksum("blake3:" + strings.Repeat("0", 64))
	require.NoError(t, err)
	h := c.New()
	_, _ = io.WriteString(h, "x")
	sum := h.Sum(nil)
	assert.Len(t, sum, 32)
	assert.False(t, c.Matches(sum))
}
