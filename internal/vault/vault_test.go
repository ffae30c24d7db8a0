package vault

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesKeyFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, keyFile))
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	require.NoError(t, err)
	assert.Len(t, decoded, keySize)
}

func TestOpen_ReusesExistingKey(t *testing.T) {
	dir := t.TempDir()
	v1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, v1.Put("id", "secret"))

	// A second open against the same directory must decrypt what the
	// first one wrote.
	v2, err := Open(dir)
	require.NoError(t, err)
	got, err := v2.Get("id")
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}

func TestRoundTrip(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	secrets := []string{
		"plain",
		"",
		"with|embedded|delimiters",
		"unicode ☃ and\nnewlines",
	}
	for _, s := range secrets {
		enc, err := v.encrypt(s)
		require.NoError(t, err)
		dec, err := v.decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	a, err := v.encrypt("same plaintext")
	require.NoError(t, err)
	b, err := v.encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_CorruptionIsCryptoError(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	enc, err := v.encrypt("payload")
	require.NoError(t, err)

	// Flip a ciphertext byte.
	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = v.decrypt(base64.StdEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, ErrDecrypt)

	// Truncate below the nonce size.
	_, err = v.decrypt(base64.StdEncoding.EncodeToString(raw[:4]))
	require.ErrorIs(t, err, ErrDecrypt)

	// Garbage that is not base64 at all.
	_, err = v.decrypt("!!! not base64 !!!")
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestGet_MissingIsNotFound(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = v.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrDecrypt)
}

func TestRegisterGetDelete(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := v.Register("sk-live-1234")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := v.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-1234", got)

	require.NoError(t, v.Delete(id))
	_, err = v.Get(id)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, v.Delete(id))
}

func TestDeleteAll(t *testing.T) {
	v, err := Open(t.TempDir())
	require.NoError(t, err)

	a, err := v.Register("one")
	require.NoError(t, err)
	b, err := v.Register("two")
	require.NoError(t, err)

	require.NoError(t, v.DeleteAll())
	_, err = v.Get(a)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = v.Get(b)
	require.ErrorIs(t, err, ErrNotFound)

	// DeleteAll on an empty vault is fine too.
	require.NoError(t, v.DeleteAll())
}

func TestWrongKeyFileSurfacesDecryptError(t *testing.T) {
	dir := t.TempDir()
	v1, err := Open(dir)
	require.NoError(t, err)
	_, err = v1.Register("secret")
	require.NoError(t, err)

	// Replace the key file, simulating key loss.
	fresh := make([]byte, keySize)
	for i := range fresh {
		fresh[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, keyFile),
		[]byte(base64.StdEncoding.EncodeToString(fresh)), 0o600))

	v2, err := Open(dir)
	require.NoError(t, err)
	_, err = v2.Get("anything")
	require.ErrorIs(t, err, ErrDecrypt)
}
