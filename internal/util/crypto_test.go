package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerIDHash(t *testing.T) {
	tests := map[string]string{
		"Notch": "4ed1f46bbe04bc756bcb17c0c7ce3e4632f06a48",
		"jeb_":  "-7c9d5b0044c130109a5d7b5fb5c317c02b4e28c1",
		"simon": "88e16a1019277b15d58faf0541e11910eb756f6",
	}
	for input, want := range tests {
		assert.Equal(t, want, ServerIDHash(input, nil, nil), input)
	}
	assert.Equal(t, ServerIDHash("", []byte("Notch"), nil), ServerIDHash("Notch", nil, nil),
		"the parts are hashed as one stream")
}

func TestOfflineUUID(t *testing.T) {
	id := OfflineUUID("Notch")
	assert.Equal(t, "b50ad385-829d-3141-a216-7e7d7539ba7f", id.String())
	assert.Equal(t, 3, int(id.Version()))
	assert.NotEqual(t, id, OfflineUUID("notch"), "names are case sensitive")
}

func TestServerKeyRoundTrip(t *testing.T) {
	key, err := GenerateServerKey()
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(key.PublicDER)
	require.NoError(t, err)
	rsaPub, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
	assert.Equal(t, ServerKeyBits, rsaPub.N.BitLen())

	secret, err := RandomBytes(16)
	require.NoError(t, err)
	sealed, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, secret)
	require.NoError(t, err)

	opened, err := key.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	_, err = key.Decrypt([]byte("not a ciphertext"))
	assert.Error(t, err)
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "api.crt")
	key := filepath.Join(dir, "api.key")
	require.NoError(t, GenerateSelfSignedCert(cert, key))
	assert.True(t, FileExists(cert))
	assert.True(t, FileExists(key))
}
