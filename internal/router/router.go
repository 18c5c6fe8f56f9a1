package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/ticket-desk/api"
	"github.com/psds-microservice/ticket-desk/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(events *handler.EventHandler, categories *handler.CategoryHandler, tickets *handler.TicketHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready)
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
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/events", events.Handle)

		v1.POST("/categories", categories.Create)
		v1.GET("/categories", categories.List)
		v1.GET("/categories/:id", categories.Get)
		v1.PUT("/categories/:id", categories.Update)
		v1.DELETE("/categories/:id", categories.Delete)
		v1.POST("/categories/:id/fields", categories.AddField)
		v1.DELETE("/categories/:id/fields/:fieldID", categories.DeleteField)

		v1.GET("/tickets", tickets.List)
		v1.GET("/tickets/:id", tickets.Get)
		v1.GET("/tickets/:id/messages", tickets.Messages)
		v1.GET("/tickets/:id/transcript", tickets.Transcript)
	}

	return r
}
