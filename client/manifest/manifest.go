package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalid 清单结构不合法或缺少必填字段
	ErrInvalid = errors.New("manifest invalid")
	// ErrUnavailable 主地址与所有本地备用清单均不可用
	ErrUnavailable = errors.New("manifest unavailable")
)

type Manifest struct {
	LatestVersion          string             `json:"latest_version"`
	MinimumRequiredVersion string             `json:"minimum_required_version"`
	DatabaseArchive        *ArchiveDescriptor `json:"database_archive"`
	ReleaseNotes           string             `json:"release_notes,omitempty"`

	// 以下字段仅在运行时记录来源
	FromFallback bool   `json:"-"`
	Source       string `json:"-"`
}

// ArchiveDescriptor 内容数据库归档的位置与校验信息。
// FileID 需要经过签发服务换取地址，DownloadURL 可直接下载
type ArchiveDescriptor struct {
	FileID      string `json:"fileId,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	InnerPath   string `json:"innerPath,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Version     string `json:"version,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	Archive     bool   `json:"archive,omitempty"`
}

type descriptorWire struct {
	FileID      string `json:"fileId"`
	DownloadURL string `json:"downloadUrl"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"sizeBytes"`
	InnerPath   string `json:"innerPath"`
	ContentType string `json:"contentType"`
	Tier        string `json:"tier"`
	Version     string `json:"version"`
	FileName    string `json:"fileName"`
	Archive     bool   `json:"archive"`

	SnakeFileID      string `json:"file_id"`
	SnakeDownloadURL string `json:"download_url"`
	SnakeSizeBytes   int64  `json:"size_bytes"`
	SnakeInnerPath   string `json:"inner_path"`
	SnakeContentType string `json:"content_type"`
	SnakeFileName    string `json:"file_name"`
	SnakeArchive     bool   `json:"is_archive"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON 同时接受 camelCase 与旧版清单使用的 snake_case 字段
func (d *ArchiveDescriptor) UnmarshalJSON(data []byte) error {
	var w descriptorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	size := w.SizeBytes
	if size == 0 {
		size = w.SnakeSizeBytes
	}
	*d = ArchiveDescriptor{
		FileID:      firstNonEmpty(w.FileID, w.SnakeFileID),
		DownloadURL: firstNonEmpty(w.DownloadURL, w.SnakeDownloadURL),
		SHA256:      w.SHA256,
		SizeBytes:   size,
		InnerPath:   firstNonEmpty(w.InnerPath, w.SnakeInnerPath),
		ContentType: firstNonEmpty(w.ContentType, w.SnakeContentType),
		Tier:        w.Tier,
		Version:     w.Version,
		FileName:    firstNonEmpty(w.FileName, w.SnakeFileName),
		Archive:     w.Archive || w.SnakeArchive,
	}
	return nil
}

// Validate 只检查必填字段是否存在
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if strings.TrimSpace(m.LatestVersion) == "" {
		return fmt.Errorf("%w: missing required field: latest_version", ErrInvalid)
	}
	if strings.TrimSpace(m.MinimumRequiredVersion) == "" {
		return fmt.Errorf("%w: missing required field: minimum_required_version", ErrInvalid)
	}
	if m.DatabaseArchive == nil {
		return fmt.Errorf("%w: missing required field: database_archive", ErrInvalid)
	}
	return nil
}

// Parse 解码并校验清单
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TargetVersion 归档对应的版本，未标注时使用清单的最新版本
func (m *Manifest) TargetVersion() string {
	if m.DatabaseArchive != nil && m.DatabaseArchive.Version != "" {
		return m.DatabaseArchive.Version
	}
	return m.LatestVersion
}
