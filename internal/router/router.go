package router

import (
	"github.com/gin-gonic/gin"

	"tyre-matrix/internal/handler"
	"tyre-matrix/internal/service"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Script-Path, X-Solver-Commands, X-Skipped-Rows")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	runHandler := handler.NewRunHandler(svcCtx.RunService)

	api := r.Group("/api")
	{
		protocols := api.Group("/projects/:project/protocols/:protocol")
		{
			protocols.POST("/resolve", runHandler.ResolveMatrix)
			protocols.GET("/batch", runHandler.EmitBatch)
			protocols.GET("/logs", runHandler.TailLog)
			protocols.GET("/jobs", runHandler.JobRecords)
			protocols.POST("/runs/:run/resolve", runHandler.Resolve)
			protocols.POST("/runs/:run/tydex", runHandler.GenerateTydex)
		}

		api.POST("/processes/stop", runHandler.StopAll)
	}

	return r
}
