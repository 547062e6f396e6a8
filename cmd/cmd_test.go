package cmd

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ourlibrary/ourlibrary/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.Execute())
	return buf.Bytes()
}

func TestLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "ledger.db")
	content := []byte("archive bytes")
	archivePath := filepath.Join(dir, "OurLibrary-1.2.0.zip")
	require.NoError(t, os.WriteFile(archivePath, content, 0o644))
	sum := sha256.Sum256(content)

	var archive models.Archive
	out := run(t, "archive", "add", "1.2.0", "--db-dsn", dsn, "--file-id", "file-120", "--file", archivePath, "--publish")
	require.NoError(t, json.Unmarshal(out, &archive))
	assert.Equal(t, hex.EncodeToString(sum[:]), archive.SHA256)
	assert.Equal(t, int64(len(content)), archive.SizeBytes)
	assert.Equal(t, "OurLibrary-1.2.0.zip", archive.FileName)
	assert.True(t, archive.IsCurrent)

	var tok models.Token
	out = run(t, "token", "create", "--db-dsn", dsn, "--tier", "premium", "--max-downloads", "3", "--expires-in", "30d")
	require.NoError(t, json.Unmarshal(out, &tok))
	assert.Equal(t, "premium", tok.Tier)
	require.NotNil(t, tok.MaxDownloads)
	assert.Equal(t, 3, *tok.MaxDownloads)
	assert.NotNil(t, tok.ExpiresAt)

	var list []models.Token
	out = run(t, "token", "list", "--db-dsn", dsn, "--status", "active")
	require.NoError(t, json.Unmarshal(out, &list))
	require.Len(t, list, 1)
	assert.Equal(t, tok.ID, list[0].ID)

	out = run(t, "token", "revoke", tok.ID, "--db-dsn", dsn)
	require.NoError(t, json.Unmarshal(out, &tok))
	assert.Equal(t, models.TokenStatusRevoked, tok.Status)
}
