package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/api"
	"github.com/psds-microservice/contact-service/internal/handler"
	"github.com/psds-microservice/contact-service/internal/metrics"
)

func New(contactHandler *handler.ContactHandler, healthHandler *handler.HealthHandler, log *zap.Logger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestID())
	r.Use(handler.RequestLogger(log))
	r.Use(metrics.Middleware())

	r.GET(paths.PathHealth, healthHandler.Health)
	r.GET(paths.PathReady, healthHandler.Ready)
	r.GET("/metrics", metrics.Handler())
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		contacts := v1.Group("/contacts")
		contacts.POST("", contactHandler.Create)
		contacts.GET("", contactHandler.List)
		contacts.GET("/stats", contactHandler.Stats)
		contacts.GET("/overdue", contactHandler.Overdue)
		contacts.GET("/track/:contact_id", contactHandler.Track)
		contacts.GET("/priority/:priority", contactHandler.ByPriority)
		contacts.GET("/status/:status", contactHandler.ByStatus)
		contacts.GET("/user/:user_id", contactHandler.ByUser)
		contacts.GET("/:identifier", contactHandler.Show)
		contacts.PUT("/:id", contactHandler.Update)
		contacts.PATCH("/:id", contactHandler.Update)
		contacts.POST("/:id/assign", contactHandler.Assign)
		contacts.DELETE("/:id", contactHandler.Delete)
	}

	return r
}
