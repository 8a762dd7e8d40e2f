package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"callpilot/internal/assist"
	"callpilot/internal/auth"
	"callpilot/internal/calls"
	"callpilot/internal/errlog"
	"callpilot/internal/voice"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth *auth.Manager
	// OperatorAPIKey enables the login endpoint; empty disables it.
	OperatorAPIKey string

	Calls    *calls.Service
	Assist   *assist.Service
	Clips    *voice.Cache
	Reporter *errlog.Reporter
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	APIKey     string `json:"api_key"`
}

// Login exchanges the shared operator credential for a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.OperatorAPIKey == "" {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "login disabled; set OPERATOR_API_KEY"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.OperatorAPIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.OperatorID, auth.RoleOperator)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// CreateCall starts an outbound call. The response is the call record;
// the caller polls or streams it for progress.
func (h Handlers) CreateCall(c *gin.Context) {
	var req calls.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_name, phone_number and call_goal are required"})
		return
	}
	rec, err := h.Calls.Start(c.Request.Context(), req)
	switch {
	case errors.Is(err, calls.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number must be E.164 and recipient_name and call_goal must be non-empty"})
		return
	case errors.Is(err, calls.ErrTooManyActive):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many active calls", "call": rec})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call could not be started"})
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Pending questions ---

func (h Handlers) ListQuestions(c *gin.Context) {
	qs, err := h.Assist.ListOpen(c.Request.Context(), c.Query("call_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "question listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": qs})
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h Handlers) AnswerQuestion(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	q, err := h.Assist.Answer(c.Request.Context(), c.Param("id"), req.Answer)
	switch {
	case errors.Is(err, assist.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "answer required"})
		return
	case errors.Is(err, assist.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	case errors.Is(err, assist.ErrAlreadyAnswered):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "question already answered"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "answer failed"})
		return
	}
	c.JSON(http.StatusOK, q)
}

// --- Audio ---

// ServeAudio hands a synthesized clip to the telephony gateway. Clips are
// short-lived; an expired id means the gateway retried long after the
// turn, so 404 is correct and the gateway falls back on its own.
func (h Handlers) ServeAudio(c *gin.Context) {
	audio, err := h.Clips.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, voice.ErrClipNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "clip not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "clip load failed"})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// --- Health ---

// Health reports degraded when the recent error window crossed the
// unrecovered-failure threshold. Orchestration keeps running either way;
// the signal is for operators and load balancers.
func (h Handlers) Health(c *gin.Context) {
	if h.Reporter != nil && !h.Reporter.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":        "degraded",
			"recent_errors": len(h.Reporter.Recent(50)),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
