package controllers

import "github.com/gin-gonic/gin"

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"success": false, "error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(200, gin.H{"success": true, "data": payload})
}

// RespondFailure is a 200 with success=false, for outcomes that are not errors
// (QR code still pending, for instance).
func RespondFailure(c *gin.Context, payload any) {
	c.JSON(200, gin.H{"success": false, "data": payload})
}
