package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type Request struct {
	URL         string
	SHA256      string
	SizeBytes   int64
	InnerPath   string
	ContentType string
	FileName    string
	Archive     bool
	Progress    ProgressFunc
}

// Artifact 校验（及解压）后的临时文件，调用方使用完毕后需 Cleanup
type Artifact struct {
	Path      string
	Trust     Trust
	Extracted bool
	Bytes     int64
	SHA256    string
}

func (a *Artifact) Cleanup() {
	if a != nil && a.Path != "" {
		os.Remove(a.Path)
	}
}

// Retrieve 下载、校验，必要时从 zip 中解出数据库文件。
// 任一步骤失败或 ctx 取消时，本次创建的临时文件全部删除
func (f *Fetcher) Retrieve(ctx context.Context, req Request) (art *Artifact, err error) {
	if req.URL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrDownloadFailed)
	}
	workDir := f.workDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, err
	}
	isZip := IsZip(Hint{Archive: req.Archive, ContentType: req.ContentType, FileName: req.FileName, URL: req.URL})
	if err := f.checkSpace(workDir, req.SizeBytes, isZip); err != nil {
		return nil, err
	}

	stage, err := os.MkdirTemp(workDir, "retrieve-")
	if err != nil {
		return nil, err
	}
	// 成功时只保留最终产物，其余临时文件随目录一起删除
	defer func() {
		if err != nil {
			os.RemoveAll(stage)
		}
	}()

	payload := filepath.Join(stage, "payload")
	res, err := f.Fetch(ctx, req.URL, payload, req.Progress)
	if err != nil {
		return nil, err
	}
	if req.SizeBytes > 0 && res.Bytes != req.SizeBytes {
		f.log(fmt.Sprintf("Downloaded size mismatch: got %d expect %d", res.Bytes, req.SizeBytes))
	}

	trust, err := verifyDigest(payload, res.SHA256, req.SHA256)
	if err != nil {
		return nil, err
	}
	if trust == TrustUnverified {
		f.log("Archive digest not provided; SHA-256 verification skipped")
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	final := payload
	if isZip {
		final = filepath.Join(stage, "member.db")
		if err = ExtractMember(payload, final, req.InnerPath); err != nil {
			return nil, err
		}
		os.Remove(payload)
	}

	out, err := os.CreateTemp(workDir, "artifact-*.db")
	if err != nil {
		return nil, err
	}
	out.Close()
	if err = os.Rename(final, out.Name()); err != nil {
		os.Remove(out.Name())
		return nil, err
	}
	os.RemoveAll(stage)
	return &Artifact{
		Path:      out.Name(),
		Trust:     trust,
		Extracted: isZip,
		Bytes:     res.Bytes,
		SHA256:    res.SHA256,
	}, nil
}

func (f *Fetcher) checkSpace(dir string, size int64, isZip bool) error {
	if size <= 0 {
		return nil
	}
	need := uint64(size)
	if isZip {
		// 压缩包与解压结果同时存在，按 3 倍估算
		need *= 3
	}
	free, err := f.freeSpace(dir)
	if err != nil {
		f.log(fmt.Sprintf("Unable to check free disk space: %v", err))
		return nil
	}
	if free < need {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, free)
	}
	return nil
}
