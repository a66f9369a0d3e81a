package taproot

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureVerification(t *testing.T) {
	for i := 0; i < 10; i++ {
		steak := sha256.New()
		steak.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF, byte(i)})
		steakHash := steak.Sum(nil)

		sk, pk, err := GenKey(rand.Reader)
		require.NoError(t, err)

		sig1, err := sk.Sign(rand.Reader, steakHash)
		require.NoError(t, err)
		require.True(t, pk.Verify(sig1, steakHash))

		sig2, err := sk.Sign(nil, steakHash)
		require.NoError(t, err)
		require.True(t, pk.Verify(sig2, steakHash))

		steakHash[0] ^= 1
		require.False(t, pk.Verify(sig1, steakHash))
	}
}

func TestDeterministicSigning(t *testing.T) {
	sk, _, err := GenKey(rand.Reader)
	require.NoError(t, err)
	m := sha256.Sum256([]byte("game"))

	sig1, err := sk.Sign(nil, m[:])
	require.NoError(t, err)
	sig2, err := sk.Sign(nil, m[:])
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
}

func TestWrongKeyRejected(t *testing.T) {
	sk, _, err := GenKey(rand.Reader)
	require.NoError(t, err)
	_, other, err := GenKey(rand.Reader)
	require.NoError(t, err)

	m := sha256.Sum256([]byte("game"))
	sig, err := sk.Sign(rand.Reader, m[:])
	require.NoError(t, err)
	assert.False(t, other.Verify(sig, m[:]))
	assert.False(t, other.Verify(sig[:63], m[:]))
}

// BIP-340 test vector 0.
func TestBIP340Vector(t *testing.T) {
	sk, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000003")
	pk, err := SecretKey(sk).Public()
	require.NoError(t, err)
	assert.Equal(t, "f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9", hex.EncodeToString(pk))

	m := make([]byte, 32)
	sig, err := SecretKey(sk).Sign(nil, m)
	require.NoError(t, err)
	assert.Equal(t,
		"e907831f80848d1069a5371b402410364bdf1c5f8307b0084c55f1ce2dca821525f66a4a85ea8b71e482a74f382d2ce5ebeee8fdb2172f477df4900d310536c0",
		hex.EncodeToString(sig))
	assert.True(t, pk.Verify(sig, m))
}

func TestParsePublicKey(t *testing.T) {
	_, pk, err := GenKey(rand.Reader)
	require.NoError(t, err)

	parsed, err := ParsePublicKey(pk.Hex())
	require.NoError(t, err)
	assert.True(t, pk.Equal(parsed))

	parsed, err = ParsePublicKey(hex.EncodeToString(pk))
	require.NoError(t, err)
	assert.True(t, pk.Equal(parsed))

	_, err = ParsePublicKey("04" + hex.EncodeToString(pk))
	assert.Error(t, err)
	_, err = ParsePublicKey("zz")
	assert.Error(t, err)
}

func TestInvalidSecretKey(t *testing.T) {
	_, err := SecretKey(make([]byte, 32)).Public()
	assert.Error(t, err)
	_, err = SecretKey(make([]byte, 31)).Sign(nil, make([]byte, 32))
	assert.Error(t, err)
}
