package routes

import (
	"github.com/gin-gonic/gin"

	"policy_kline_backend/controllers"
	"policy_kline_backend/middleware"
)

// SetupRoutes registers all application routes.
func SetupRoutes(router *gin.Engine) {
	// chart pages
	router.GET("/", controllers.Index)
	router.POST("/", controllers.IndexSubmit)
	router.GET("/kline/:code", controllers.ShowKline)
	router.GET("/data-viewer", controllers.DataViewer)

	// live event feed
	router.GET("/ws/events", controllers.HandleEventFeed)

	// API v1 group
	api := router.Group("/api/v1")
	{
		stocks := api.Group("/stocks")
		{
			stocks.GET("/:code/kline", controllers.GetKlineJSON)
			stocks.GET("/:code/industry", controllers.GetStockIndustry)
		}

		events := api.Group("/events")
		{
			events.GET("", controllers.ListEvents)
			events.GET("/:code", controllers.GetEventsByStock)
			events.GET("/template.csv", controllers.DownloadCSVTemplate)
		}

		policies := api.Group("/policies")
		{
			policies.GET("/:id/analysis", controllers.GetPolicyAnalysis)
			policies.GET("/by-stock/:code", controllers.GetPoliciesByStock)
		}

		api.GET("/stats", controllers.GetStats)

		// admin API: login is rate limited, the rest requires a token
		admin := api.Group("/admin")
		{
			admin.POST("/login", middleware.LoginRateLimitMiddleware(), controllers.Login)

			protected := admin.Group("")
			protected.Use(middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware())
			{
				protected.GET("/me", controllers.Me)
				protected.POST("/events", controllers.CreateEvent)
				protected.PUT("/events/:id", controllers.UpdateEvent)
				protected.DELETE("/events/:id", controllers.DeleteEvent)
				protected.POST("/events/import", controllers.ImportEventsCSV)
				protected.POST("/fetch-policies", controllers.FetchPolicies)
				protected.POST("/analyze", controllers.TriggerAnalysis)
			}
		}
	}
}
