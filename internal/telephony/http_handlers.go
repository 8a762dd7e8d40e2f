package telephony

import (
	"context"
	"net/http"

	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Webhook handlers convert gateway callbacks to internal types, delegate
// to the injected orchestrator, and answer quickly. No business logic here.
//
// Acknowledgement contract: the gateway redelivers unacknowledged webhooks
// and a slow answer stalls the live call, so these handlers always return
// 2xx. Processing failures are logged, never surfaced as 5xx.

// StatusSink consumes normalized lifecycle events.
type StatusSink interface {
	HandleStatus(ctx context.Context, form StatusWebhookForm) error
}

// TurnSink produces the call-control markup for a conversation turn.
type TurnSink interface {
	HandleTurn(ctx context.Context, form GatherWebhookForm) (string, error)
}

type StatusWebhookHandler struct {
	Orchestrator StatusSink
}

func (h StatusWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Orchestrator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}

	form, err := ParseStatusWebhook(c.Request)
	if err != nil {
		log.Warn("status webhook parse failed", "err", err)
		// Malformed body: still 2xx, a redelivery will not parse any better.
		c.Status(http.StatusOK)
		return
	}

	if err := h.Orchestrator.HandleStatus(c.Request.Context(), form); err != nil {
		log.Error("status event handling failed", "call_sid", form.CallSid, "status", form.CallStatus, "err", err)
	}
	c.Status(http.StatusOK)
}

type GatherWebhookHandler struct {
	Orchestrator TurnSink

	// FallbackActionURL is where the clarification response re-gathers
	// when turn handling fails.
	FallbackActionURL string
}

func (h GatherWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Orchestrator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}

	form, err := ParseGatherWebhook(c.Request)
	if err != nil {
		log.Warn("gather webhook parse failed", "err", err)
		c.Header("Content-Type", "application/xml")
		c.String(http.StatusOK, RenderClarification(h.fallbackURL(c)))
		return
	}

	twiml, err := h.Orchestrator.HandleTurn(c.Request.Context(), form)
	if err != nil {
		// The call is live; degrade to a clarification prompt rather than
		// dropping the line.
		log.Error("turn handling failed", "call_sid", form.CallSid, "err", err)
		twiml = RenderClarification(h.fallbackURL(c))
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h GatherWebhookHandler) fallbackURL(c *gin.Context) string {
	if h.FallbackActionURL != "" {
		return h.FallbackActionURL
	}
	return c.Request.URL.Path
}
