package securestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateSigningKeyPersists(t *testing.T) {
	t.Setenv(envSigningKey, "")
	path := filepath.Join(t.TempDir(), "secret", "signing_key")

	first, err := GetOrCreateSigningKey(path)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := GetOrCreateSigningKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSignAndVerifyExpiring(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	now := time.Unix(1_700_000_000, 0)
	expires := now.Add(10 * time.Minute)

	sig, err := SignExpiring(key, "file-abc", expires)
	require.NoError(t, err)

	assert.NoError(t, VerifyExpiring(key, "file-abc", expires.Unix(), sig, now))
	assert.Error(t, VerifyExpiring(key, "file-other", expires.Unix(), sig, now))
	assert.Error(t, VerifyExpiring(key, "file-abc", expires.Unix()+1, sig, now))
	assert.Error(t, VerifyExpiring(key, "file-abc", expires.Unix(), sig, expires))
	assert.Error(t, VerifyExpiring(key, "file-abc", expires.Unix(), "zz", now))
}
