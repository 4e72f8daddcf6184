package gateway

import (
	"context"

	"github.com/0glabs/0g-dirview/common/api"
	"github.com/0glabs/0g-dirview/indexer"
	"github.com/gin-gonic/gin"
)

type Config struct {
	Endpoint       string   // http endpoint
	OriginsAllowed []string // cors origins, all by default
}

// MustServe serves the inspection API of index until ctx is done.
func MustServe(ctx context.Context, index indexer.Interface, config Config) {
	api.MustServe(ctx, config.Endpoint, Routes(NewRestController(index)), api.RouterOption{
		OriginsAllowed: config.OriginsAllowed,
	})
}

// Routes registers the endpoints of controller.
func Routes(controller *RestController) api.RouteFactory {
	return func(router *gin.Engine) {
		router.GET("/root", api.Wrap(controller.getRoot))
		router.GET("/children", api.Wrap(controller.getChildren))
		router.GET("/metadata", api.Wrap(controller.getMetadata))
		router.GET("/resolve", api.Wrap(controller.resolve))
		router.GET("/stats", api.Wrap(controller.getStats))
		router.POST("/sort", api.Wrap(controller.setSort))
		router.POST("/reload", api.Wrap(controller.reload))
		router.POST("/unload", api.Wrap(controller.unload))
		router.GET("/events", controller.streamEvents)
	}
}
