package api

import "github.com/gin-gonic/gin"

func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{
		"status":  "success",
		"message": "",
		"data":    data,
	})
}

func RespondSuccessMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(200, gin.H{
		"status":  "success",
		"message": message,
		"data":    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"status":  "error",
		"message": message,
	})
}
