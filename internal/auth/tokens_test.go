package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshToken(t *testing.T) {
	a, err := NewRefreshToken()
	require.NoError(t, err)
	b, err := NewRefreshToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestHashToken_StableHex(t *testing.T) {
	h := HashToken("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
	assert.Equal(t, h, HashToken("abc"))
}

func TestNewCode_SixDigits(t *testing.T) {
	six := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		assert.Regexp(t, six, code)
	}
}

func TestCodeMatches(t *testing.T) {
	stored := HashToken("042137")

	assert.True(t, CodeMatches(stored, "042137"))
	assert.False(t, CodeMatches(stored, "042138"))
	assert.False(t, CodeMatches(stored, "42137"))
	assert.False(t, CodeMatches("", ""), "no pending code never matches")
}
