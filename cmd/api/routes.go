package main

import (
	"callpilot/internal/httpapi"
	"callpilot/internal/notify"
	"callpilot/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers httpapi.Handlers
	status   telephony.StatusWebhookHandler
	gather   telephony.GatherWebhookHandler
	stream   *notify.StreamHandler
	authMW   gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// Public surface: health, the gateway's webhooks and audio fetches.
	// NOTE: the webhook endpoints should be protected by Twilio signature
	// validation when exposed beyond a trusted proxy.
	r.GET("/healthz", d.handlers.Health)
	r.POST("/webhooks/twilio/status", d.status.Handle)
	r.POST("/webhooks/twilio/gather", d.gather.Handle)
	r.GET("/audio/:id", d.handlers.ServeAudio)

	v1 := r.Group("/v1")

	// Token issuance is the one /v1 route without a bearer token.
	v1.POST("/auth/login", d.handlers.Login)

	authed := v1.Group("")
	authed.Use(d.authMW)
	{
		authed.POST("/calls", d.handlers.CreateCall)
		authed.GET("/calls/:id", d.handlers.GetCall)
		authed.GET("/calls/:id/ws", d.stream.Handle)

		authed.GET("/questions", d.handlers.ListQuestions)
		authed.POST("/questions/:id/answer", d.handlers.AnswerQuestion)
	}
}
