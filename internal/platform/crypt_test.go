package platform

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f"

func encryptForTest(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	key, err := hex.DecodeString(testKeyHex)
	require.NoError(t, err)
	iv, err := hex.DecodeString(streamIVHex)
	require.NoError(t, err)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, plaintext)
	return out
}

func TestDecryptStream(t *testing.T) {
	dir := t.TempDir()
	plaintext := []byte("OggS vorbis audio payload, long enough to span blocks....")

	src := filepath.Join(dir, "in.encrypted.ogg")
	dst := filepath.Join(dir, "out.decrypted.ogg")
	require.NoError(t, os.WriteFile(src, encryptForTest(t, plaintext), 0o644))

	require.NoError(t, decryptStream(src, dst, testKeyHex))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptStreamBadKey(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	assert.Error(t, decryptStream(src, filepath.Join(dir, "out"), "not-hex"))
	assert.Error(t, decryptStream(src, filepath.Join(dir, "out"), "abcd")) // wrong length
}

func TestRebuildOggHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.ogg")
	require.NoError(t, os.WriteFile(path, make([]byte, 128), 0o644))

	require.NoError(t, rebuildOggHeader(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(data[0:4]))
	assert.Equal(t, make([]byte, 10), data[6:16])
	assert.Equal(t, "\x01\x1e\x01vorbis", string(data[26:35]))
	assert.Equal(t, byte(0x02), data[39], "channel count")
	assert.Equal(t, []byte{0x44, 0xac, 0x00, 0x00}, data[40:44], "44100 Hz sample rate")
	assert.Equal(t, []byte{0x00, 0xe2, 0x04, 0x00}, data[48:52])
	assert.Equal(t, []byte{0xb8, 0x01}, data[56:58])
	assert.Equal(t, "OggS", string(data[58:62]))
	assert.Equal(t, make([]byte, 10), data[62:72])
}

func TestCleanupFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.encrypted.ogg")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	// Missing files are not an error.
	cleanupFiles(present, filepath.Join(dir, "missing.decrypted.ogg"))

	_, err := os.Stat(present)
	assert.True(t, os.IsNotExist(err))
}
