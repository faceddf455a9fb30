package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxRoundTrip(t *testing.T) {
	box, err := NewBox("unit-secret")
	require.NoError(t, err)

	sealed, err := box.Seal("sk-123456")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-123456")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-123456", plain)
}

func TestBoxNonceIsRandom(t *testing.T) {
	box, err := NewBox("unit-secret")
	require.NoError(t, err)

	a, _ := box.Seal("same")
	b, _ := box.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestBoxRejectsTamperingAndWrongKey(t *testing.T) {
	box, _ := NewBox("unit-secret")
	other, _ := NewBox("other-secret")

	sealed, err := box.Seal("13800138000")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrMalformed)

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 'A' ^ 'B'
	_, err = box.Open(string(tampered))
	assert.Error(t, err)

	_, err = box.Open("!!not-base64!!")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBoxEmpty(t *testing.T) {
	_, err := NewBox("")
	assert.Error(t, err)

	box, _ := NewBox("k")
	plain, err := box.Open("")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Fingerprint("hello"))
}
