package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/errs"
)

func newBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	b, err := NewBox(KeyFromString(key))
	require.NoError(t, err)
	return b
}

func TestEncryptDecryptMap(t *testing.T) {
	b := newBox(t)
	enc, err := b.Encrypt(map[string]string{"apiKey": "k-123", "password": "hunter2"})
	require.NoError(t, err)
	for _, v := range enc {
		assert.True(t, strings.HasPrefix(v, Prefix))
		assert.NotContains(t, v, "hunter2")
	}

	again, err := b.Encrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, enc, again, "already encrypted values are kept")

	dec, err := b.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"apiKey": "k-123", "password": "hunter2"}, dec)
}

func TestNoncesDiffer(t *testing.T) {
	b := newBox(t)
	x, err := b.EncryptString("same")
	require.NoError(t, err)
	y, err := b.EncryptString("same")
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}

func TestDecryptPlaintextPassesThrough(t *testing.T) {
	b := newBox(t)
	dec, err := b.Decrypt(map[string]string{"token": "legacy"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", dec["token"])
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc, err := newBox(t).Encrypt(map[string]string{"token": "t"})
	require.NoError(t, err)
	_, err = newBox(t).Decrypt(enc)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))

	_, err = newBox(t).DecryptString(Prefix + "!!!")
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}

func TestNewBoxRejectsShortKey(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
	assert.Len(t, KeyFromString("a passphrase"), 32)
}

func TestPlainCopies(t *testing.T) {
	in := map[string]string{"a": "b"}
	out, err := Plain{}.Encrypt(in)
	require.NoError(t, err)
	out["a"] = "c"
	assert.Equal(t, "b", in["a"])
}
