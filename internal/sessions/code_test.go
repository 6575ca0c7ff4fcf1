package sessions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionCode(t *testing.T) {
	code, err := GenerateSessionCode()
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected glyph %q", r)
	}
}

func TestGenerateSessionCodeExcludesAmbiguousGlyphs(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateSessionCode()
		require.NoError(t, err)
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")
	}
}

func TestGenerateSessionCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateSessionCode()
		require.NoError(t, err)
		seen[code] = true
	}
	// 31^6 possibilities; 50 draws colliding down to a handful would mean a
	// broken generator, not bad luck.
	assert.Greater(t, len(seen), 45)
}
