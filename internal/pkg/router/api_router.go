package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/faustinowatschinger/recurBoost-next/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")

	// Processor deliveries and cron triggers authenticate themselves; rate
	// limiting them would drop legitimate bursts.
	api.Post("/stripe/webhooks", controllers.HandleStripeWebhook)
	api.Get("/stripe/status", limiter.New(), controllers.HandleIntegrationStatus)

	byok := api.Group("/stripe/byok", limiter.New())
	byok.Post("/connect", controllers.HandleConnectIntegration)
	byok.Post("/webhook-secret", controllers.HandleUpdateWebhookSecret)
	byok.Post("/disconnect", controllers.HandleDisconnectIntegration)

	cron := api.Group("/cron")
	cron.Post("/process-retries", controllers.HandleProcessRetries)
	cron.Post("/process-emails", controllers.HandleProcessEmails)

	tracking := api.Group("/emails/track")
	tracking.Get("/open", controllers.HandleTrackOpen)
	tracking.Get("/click", controllers.HandleTrackClick)

	recoveryGroup := api.Group("/recovery", limiter.New())
	recoveryGroup.Post("/portal-redirect", controllers.HandlePortalRedirect)

	dashboard := api.Group("/dashboard", limiter.New())
	dashboard.Get("/metrics", controllers.HandleDashboardMetrics)
	dashboard.Get("/cases", controllers.HandleListCases)
	dashboard.Post("/cases/:uuid/cancel", controllers.HandleCancelCase)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
