package installstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	goupdate "github.com/inconshreveable/go-update"
)

const BackupDirName = "Backups"

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// backupName 时间戳中的非字母数字字符统一替换为 -，重名时追加序号
func backupName(dir string, now time.Time) string {
	stamp := nonAlnum.ReplaceAllString(now.UTC().Format("2006-01-02T15:04:05.000Z"), "-")
	base := "OurLibrary_backup_" + stamp
	candidate := filepath.Join(dir, base+".db")
	for i := 1; ; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, base+"-"+strconv.Itoa(i)+".db")
	}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Backup 把现有文件完整复制到 <dir>/Backups 下，文件不存在时返回空路径
func (s *Store) Backup(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	dir := filepath.Join(filepath.Dir(path), BackupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	backupPath := backupName(dir, s.now())
	if err := copyFile(path, backupPath); err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	s.log(fmt.Sprintf("Database backed up to: %s", backupPath))
	return backupPath, nil
}

// BackupThenReplace 先备份 dest，再用 src 替换 dest。
// 已存在的 dest 通过 go-update 的重命名替换，失败时回滚，不会留下被截断的文件
func (s *Store) BackupThenReplace(dest, src string) (string, error) {
	backupPath, err := s.Backup(dest)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return backupPath, err
	}
	if backupPath == "" {
		if err := copyFile(src, dest); err != nil {
			return "", fmt.Errorf("install %s: %w", dest, err)
		}
		return "", nil
	}

	in, err := os.Open(src)
	if err != nil {
		return backupPath, err
	}
	defer in.Close()
	if err := goupdate.Apply(in, goupdate.Options{TargetPath: dest, TargetMode: 0o644}); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			return backupPath, fmt.Errorf("replace failed: %v, rollback failed: %v (backup kept at %s)", err, rerr, backupPath)
		}
		return backupPath, fmt.Errorf("replace failed: %w", err)
	}
	return backupPath, nil
}

// CreatePlaceholder 创建空数据库文件，已存在时不做任何修改
func (s *Store) CreatePlaceholder(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if err := f.Close(); err != nil {
		return false, err
	}
	s.log(fmt.Sprintf("Created placeholder database at %s", path))
	return true, nil
}
