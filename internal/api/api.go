package api

import (
	"github.com/wb-go/wbf/ginext"

	"linkhub/cmd/middleware"
	"linkhub/internal/service"
)

type Routers struct {
	Service service.Service
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New()

	app.Use(middleware.LoggingMiddleware())

	app.GET("/:code", r.Service.Redirect)

	apiGroup := app.Group("/v1")

	apiGroup.POST("/links", r.Service.CreateLink)
	apiGroup.PATCH("/links/:code", r.Service.UpdateLink)
	apiGroup.GET("/links/:code/stats", r.Service.LinkStats)

	return app
}
