package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	encoded, err := Hash("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))
	assert.True(t, Verify(encoded, "correct horse battery staple"))
	assert.False(t, Verify(encoded, "correct horse battery stapler"))
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("same input")
	require.NoError(t, err)
	b, err := Hash("same input")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, Verify(a, "same input"))
	assert.True(t, Verify(b, "same input"))
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	cases := []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=3,p=2$short",
		"$bcrypt$something",
		"$argon2id$v=19$m=banana,t=3,p=2$c2FsdA$aGFzaA",
	}
	for _, encoded := range cases {
		assert.False(t, Verify(encoded, "whatever"), "hash %q", encoded)
	}
}
