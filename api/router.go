package api

import (
	"github.com/gin-gonic/gin"
	"github.com/ourlibrary/ourlibrary/issuer"
)

// RouterOptions Local 为空时不注册本地文件下载路由
type RouterOptions struct {
	Service *issuer.Service
	Local   *issuer.LocalProvider
}

func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	apiGroup.GET("/manifest", GetManifest)

	issue := apiGroup.Group("/issue-download-url", AllowCORS())
	issue.OPTIONS("", func(c *gin.Context) {})
	issue.POST("", IssueDownloadURL(opts.Service))

	if opts.Local != nil {
		apiGroup.GET("/files/:file_id", DownloadFile(opts.Local))
	}
	return r
}
