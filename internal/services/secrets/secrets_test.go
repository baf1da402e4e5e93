package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	encoded, err := GenerateKey(32)
	require.NoError(t, err)
	codec, err := NewCodecFromBase64(encoded)
	require.NoError(t, err)
	return codec
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	ciphertext, err := codec.Encrypt("secret-123")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-123", ciphertext)

	plaintext, err := codec.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret-123", plaintext)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Decrypt("tampered-ciphertext")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptFlippedByte(t *testing.T) {
	codec := newTestCodec(t)

	ciphertext, err := codec.Encrypt("secret-123")
	require.NoError(t, err)

	raw := []byte(ciphertext)
	raw[len(raw)/2] ^= 0x01
	plaintext, err := codec.Decrypt(string(raw))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Empty(t, plaintext)
}

func TestDecryptWithWrongKey(t *testing.T) {
	a := newTestCodec(t)
	b := newTestCodec(t)

	ciphertext, err := a.Encrypt("secret-123")
	require.NoError(t, err)

	_, err = b.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptTooShort(t *testing.T) {
	codec := newTestCodec(t)

	// Valid base64 but shorter than a GCM nonce.
	_, err := codec.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewCodecRejectsBadKeySizes(t *testing.T) {
	_, err := NewCodec([]byte("short"))
	assert.Error(t, err)

	_, err = NewCodecFromBase64("")
	assert.Error(t, err)

	_, err = NewCodecFromBase64("not base64!!")
	assert.Error(t, err)
}
