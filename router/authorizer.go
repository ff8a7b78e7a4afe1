package router

import (
	"net/http"

	"bilireply/controllers"

	"github.com/gin-gonic/gin"
)

// Authorizer blocks routes that talk to the platform when the account has no
// stored cookies (never logged in by QR, or logged out).
func Authorizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := controllers.GetUserLogged(c)
		if !ok {
			controllers.RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		if !user.HasSession() {
			controllers.RespondError(c, "usuário não logado na plataforma", http.StatusUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}
