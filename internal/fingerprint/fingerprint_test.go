package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfDeterministic(t *testing.T) {
	content := []byte("package main\n\nfunc main() {}\n")
	assert.Equal(t, Of(content), Of(content))
	assert.Equal(t, Of(content), OfString(string(content)))
}

func TestWhitespaceSensitive(t *testing.T) {
	a := []byte("func f() {}\n")
	b := []byte("func f()  {}\n")
	c := []byte("func f() {}\n\n")

	assert.NotEqual(t, Of(a), Of(b))
	assert.NotEqual(t, Of(a), Of(c))
}

func TestHasChanged(t *testing.T) {
	content := []byte("hello")
	stored := Of(content)

	assert.False(t, HasChanged(stored, content))
	assert.True(t, HasChanged(stored, []byte("hello ")))
	assert.True(t, HasChanged(Fingerprint{}, content))
}

func TestRoundTrip(t *testing.T) {
	f := Of([]byte("x"))

	parsed, err := Parse(f.String())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	fromBytes, err := FromBytes(f[:])
	require.NoError(t, err)
	assert.Equal(t, f, fromBytes)

	zero, err := FromBytes(nil)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.Len(t, f.Short(), 12)
}
