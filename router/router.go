package router

import (
	"log"
	"net/http"

	"bilireply/config"
	"bilireply/controllers"
	"bilireply/middleware"

	"github.com/gin-gonic/gin"
)

// Initialize wires all routes and middlewares: public routes, authenticated
// routes, and routes that also need a platform session (Authorizer).
func Initialize(r *gin.Engine, cfg config.Configuration) {
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	api := r.Group("/api")
	api.Use(Logger())

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": "ok"})
	})

	// Public (QR login)
	api.GET("/auth/qrcode", controllers.GetLoginQRCode)
	api.POST("/auth/check-login", controllers.CheckLogin)

	// Authenticated routes (token required)
	auth := api.Group("")
	auth.Use(controllers.AuthRequired())

	auth.GET("/user", controllers.Me)
	auth.POST("/auth/logout", controllers.Logout)

	// Rules
	auth.GET("/rules", controllers.GetRules)
	auth.POST("/rules", controllers.CreateRule)
	auth.POST("/rules/test", controllers.TestRules)
	auth.GET("/rules/export", controllers.ExportRules)
	auth.POST("/rules/import", controllers.ImportRules)
	auth.GET("/rules/:id", controllers.GetRuleByID)
	auth.PUT("/rules/:id", controllers.UpdateRule)
	auth.DELETE("/rules/:id", controllers.DeleteRule)

	// Auto-reply settings and history
	auth.GET("/auto-reply/settings", controllers.GetAutoReplySettings)
	auth.PUT("/auto-reply/settings", controllers.UpdateAutoReplySettings)
	auth.GET("/auto-reply/passes", controllers.GetPassRuns)
	auth.GET("/auto-reply/dashboard/replies-per-day", controllers.GetRepliesPerDay)

	// Proxy (global)
	auth.GET("/proxy-config", controllers.GetProxyConfig)
	auth.PUT("/proxy-config", controllers.UpdateProxyConfig)
	auth.POST("/proxy-config/test", controllers.TestProxyConfig)

	// Validated routes (token + platform session)
	validated := auth.Group("")
	validated.Use(Authorizer())

	validated.GET("/messages/sessions", controllers.GetSessions)
	validated.GET("/messages/:talkerId", controllers.GetSessionMessages)
	validated.POST("/messages/:talkerId", controllers.SendSessionMessage)
	validated.POST("/auto-reply", controllers.RunAutoReply)

	log.Printf("Routes initialized")
}
