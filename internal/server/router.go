package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dovira/amlgraph-backend/internal/handlers"
)

type RouterConfig struct {
	IngestHandler *handlers.IngestHandler
	GraphHandler  *handlers.GraphHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/ingest", cfg.IngestHandler.IngestRecord)
		api.GET("/ingest/runs", cfg.GraphHandler.ListIngestRuns)
		api.GET("/graph/stats", cfg.GraphHandler.GetStats)
		api.GET("/persons", cfg.GraphHandler.SearchPersons)
		api.GET("/persons/:rnokpp/profile", cfg.GraphHandler.GetPersonProfile)
	}

	return router
}
