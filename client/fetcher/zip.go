package fetcher

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Hint 判断下载内容是否为 zip 的线索
type Hint struct {
	Archive     bool
	ContentType string
	FileName    string
	URL         string
}

// IsZip 任一线索成立即按 zip 处理：显式标记、content type 含 zip、文件名或 URL 路径以 .zip 结尾
func IsZip(h Hint) bool {
	if h.Archive {
		return true
	}
	if strings.Contains(strings.ToLower(h.ContentType), "zip") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(h.FileName), ".zip") {
		return true
	}
	if h.URL != "" {
		p := h.URL
		if u, err := url.Parse(h.URL); err == nil {
			p = u.Path
		} else if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		if strings.HasSuffix(strings.ToLower(p), ".zip") {
			return true
		}
	}
	return false
}

func normalizeEntry(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(name, "./")
}

// ExtractMember 解出第一个匹配的条目：指定 preferred 时要求路径完全一致，否则取第一个 .db 文件
func ExtractMember(zipPath, destPath, preferred string) (err error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	want := normalizeEntry(preferred)
	var member *zip.File
	for _, f := range zr.File {
		name := normalizeEntry(f.Name)
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}
		if want != "" {
			if name == want {
				member = f
				break
			}
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".db") {
			member = f
			break
		}
	}
	if member == nil {
		if want != "" {
			return fmt.Errorf("%w: %s", ErrMemberNotFound, want)
		}
		return fmt.Errorf("%w: no .db entry", ErrMemberNotFound)
	}

	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".extract-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, rc); err != nil {
		return fmt.Errorf("extract %s: %w", member.Name, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}
