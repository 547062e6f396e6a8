package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ourlibrary/ourlibrary/database/archives"
	"github.com/ourlibrary/ourlibrary/database/models"
)

type manifestArchive struct {
	FileID      string `json:"fileId"`
	Version     string `json:"version"`
	SHA256      string `json:"sha256,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	InnerPath   string `json:"innerPath,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Archive     bool   `json:"archive,omitempty"`
}

type manifestResponse struct {
	LatestVersion          string          `json:"latest_version"`
	MinimumRequiredVersion string          `json:"minimum_required_version"`
	DatabaseArchive        manifestArchive `json:"database_archive"`
	ReleaseNotes           string          `json:"release_notes,omitempty"`
}

func buildManifest(a *models.Archive) manifestResponse {
	minimum := a.MinimumRequiredVersion
	if minimum == "" {
		minimum = a.Version
	}
	return manifestResponse{
		LatestVersion:          a.Version,
		MinimumRequiredVersion: minimum,
		DatabaseArchive: manifestArchive{
			FileID:      a.FileID,
			Version:     a.Version,
			SHA256:      a.SHA256,
			SizeBytes:   a.SizeBytes,
			FileName:    a.FileName,
			InnerPath:   a.InnerPath,
			ContentType: a.ContentType,
			Tier:        a.Tier,
			Archive:     strings.HasSuffix(strings.ToLower(a.FileName), ".zip") || strings.Contains(strings.ToLower(a.ContentType), "zip"),
		},
		ReleaseNotes: a.ReleaseNotes,
	}
}

// GetManifest 发布当前版本的清单，下载地址需通过签发接口获取
func GetManifest(c *gin.Context) {
	a, err := archives.Current()
	if err != nil {
		if errors.Is(err, archives.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "尚未发布任何版本")
			return
		}
		RespondError(c, http.StatusInternalServerError, "获取版本失败: "+err.Error())
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, buildManifest(a))
}
