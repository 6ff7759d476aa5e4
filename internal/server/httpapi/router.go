package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/gin-gonic/gin"
)

func NewRouter(l logging.Logger, svc Services) *gin.Engine {
	h := &handler{svc: svc, logger: l}

	r := gin.New()
	r.Use(requestLogger(l), recovery(l))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))

	api := r.Group("/api")

	a := api.Group("/auth")
	a.POST("/setup", h.setup)
	a.GET("/check-first-time", h.checkFirstTime)
	a.POST("/login", h.login)
	a.GET("/validate", h.validate)

	secured := a.Group("", requireToken())
	secured.POST("/logout", h.logout)
	secured.POST("/change-password", h.changePassword)
	secured.GET("/rotation", h.rotationStatus)
	secured.POST("/backup", h.backup)
	secured.DELETE("/backup", h.discardBackup)
	secured.POST("/restore", h.restore)

	p := api.Group("/passwords", requireToken())
	p.GET("", h.listCredentials)
	p.GET("/search", h.searchCredentials)
	p.GET("/:id", h.getCredential)
	p.POST("", h.createCredential)
	p.PUT("/:id", h.updateCredential)
	p.DELETE("/:id", h.deleteCredential)

	return r
}
