package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ourlibrary/ourlibrary/issuer"
)

// AllowCORS 签发接口可被浏览器直接调用，预检请求直接返回 204
func AllowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// IssueDownloadURL 签发下载地址。
// 成功与失败的响应体格式固定为 {downloadUrl,...} 与 {code,message}，不走通用响应封装
func IssueDownloadURL(svc *issuer.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req issuer.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    issuer.CodeInvalidArgument,
				"message": "invalid request body",
			})
			return
		}
		grant, err := svc.Issue(c.Request.Context(), req)
		if err != nil {
			code := issuer.CodeOf(err)
			if code == issuer.CodeInternal {
				log.Printf("unexpected error issuing download url: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
				return
			}
			var message string
			var ie *issuer.Error
			if errors.As(err, &ie) {
				message = ie.Message
			}
			c.JSON(issuer.HTTPStatus(code), gin.H{
				"code":    code,
				"message": message,
			})
			return
		}
		c.JSON(http.StatusOK, grant)
	}
}
