package installstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupThenReplace(t *testing.T) {
	root := t.TempDir()
	s := newStore(t, root)
	dest := filepath.Join(root, "database", "OurLibrary.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))
	src := filepath.Join(root, "new.db")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	first, err := s.BackupThenReplace(dest, src)
	require.NoError(t, err)
	assert.Equal(t, "OurLibrary_backup_2024-05-06T07-08-09-123Z.db", filepath.Base(first))
	got, _ := os.ReadFile(first)
	assert.Equal(t, "old", string(got))
	got, _ = os.ReadFile(dest)
	assert.Equal(t, "new", string(got))

	// 同一时间戳再次替换，备份名不冲突
	require.NoError(t, os.WriteFile(src, []byte("newer"), 0o644))
	second, err := s.BackupThenReplace(dest, src)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	got, _ = os.ReadFile(second)
	assert.Equal(t, "new", string(got))

	entries, err := os.ReadDir(filepath.Join(filepath.Dir(dest), BackupDirName))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// 目录中不应残留 go-update 的中间文件
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dest), ".OurLibrary.db.*"))
	assert.Empty(t, leftovers)
}

func TestBackupThenReplaceFreshInstall(t *testing.T) {
	root := t.TempDir()
	s := newStore(t, root)
	dest := filepath.Join(root, "database", "OurLibrary.db")
	src := filepath.Join(root, "new.db")
	require.NoError(t, os.WriteFile(src, []byte("fresh"), 0o644))

	backup, err := s.BackupThenReplace(dest, src)
	require.NoError(t, err)
	assert.Empty(t, backup)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "fresh", string(got))
	_, err = os.Stat(filepath.Join(filepath.Dir(dest), BackupDirName))
	assert.True(t, os.IsNotExist(err))
}

func TestBackupThenReplaceMissingSourceKeepsDest(t *testing.T) {
	root := t.TempDir()
	s := newStore(t, root)
	dest := filepath.Join(root, "OurLibrary.db")
	require.NoError(t, os.WriteFile(dest, []byte("original"), 0o644))

	backup, err := s.BackupThenReplace(dest, filepath.Join(root, "missing.db"))
	require.Error(t, err)
	require.NotEmpty(t, backup)
	got, _ := os.ReadFile(dest)
	assert.Equal(t, "original", string(got))
	got, _ = os.ReadFile(backup)
	assert.Equal(t, "original", string(got))
}

func TestCreatePlaceholder(t *testing.T) {
	root := t.TempDir()
	s := newStore(t, root)
	path := filepath.Join(root, "database", "OurLibrary.db")

	created, err := s.CreatePlaceholder(path)
	require.NoError(t, err)
	assert.True(t, created)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	created, err = s.CreatePlaceholder(path)
	require.NoError(t, err)
	assert.False(t, created)
	got, _ := os.ReadFile(path)
	assert.Equal(t, "data", string(got))
}
