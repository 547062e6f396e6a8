package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ourlibrary/ourlibrary/database/archives"
	"github.com/ourlibrary/ourlibrary/issuer"
)

// DownloadFile 校验签名后下载本地存储的归档，配合 issuer.LocalProvider 使用
func DownloadFile(provider *issuer.LocalProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileID := strings.TrimSpace(c.Param("file_id"))
		if fileID == "" {
			RespondError(c, http.StatusBadRequest, "缺少 file_id")
			return
		}
		if err := provider.Verify(fileID, c.Query("expires"), c.Query("signature")); err != nil {
			RespondError(c, http.StatusForbidden, "签名无效或已过期")
			return
		}
		archive, err := archives.GetByFileID(fileID)
		if err != nil {
			if errors.Is(err, archives.ErrNotFound) {
				RespondError(c, http.StatusNotFound, "文件不存在")
				return
			}
			RespondError(c, http.StatusInternalServerError, "获取文件信息失败: "+err.Error())
			return
		}
		path, err := provider.Path(archive)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				RespondError(c, http.StatusNotFound, "文件不存在")
				return
			}
			RespondError(c, http.StatusInternalServerError, "读取文件失败: "+err.Error())
			return
		}
		name := archive.FileName
		if name == "" {
			name = filepath.Base(path)
		}
		if archive.ContentType != "" {
			c.Header("Content-Type", archive.ContentType)
		}
		c.FileAttachment(path, name)
	}
}
