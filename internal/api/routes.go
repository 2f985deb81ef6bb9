package api

import (
	"net/http"
	"strings"

	"tarot_reading_go_backend/internal/auth"
	"tarot_reading_go_backend/internal/metrics"
	"tarot_reading_go_backend/internal/services"
	"tarot_reading_go_backend/internal/wsocket"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the HTTP surface is built on. AdminWS,
// Stripe and Metrics may be nil.
type Dependencies struct {
	Orchestrator *services.Orchestrator
	Cards        *services.CardLibrary
	PDF          *services.PDFService
	Auth         *auth.Authenticator
	Stripe       *services.StripeService
	Metrics      *metrics.Metrics
	AdminWS      *wsocket.Handler
	URLs         BaseURL
}

func SetupRoutes(r *gin.Engine, deps Dependencies) {
	orchestrator := deps.Orchestrator
	store := orchestrator.Store()

	r.GET("/healthz", healthHandler)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	r.Static("/images", deps.Cards.Dir())
	if deps.PDF != nil {
		r.Static("/pdfs", deps.PDF.Dir())
	}

	r.POST("/draw", drawHandler(orchestrator))
	r.GET("/result", resultHandler(store))

	webhook := r.Group("/api/webhook")
	{
		webhook.POST("", webhookDrawHandler(orchestrator, deps.URLs))
		webhook.POST("/follow-up", webhookFollowUpHandler(orchestrator))
		webhook.POST("/result", webhookResultHandler(orchestrator, deps.URLs))
	}

	payments := r.Group("/api")
	{
		payments.POST("/checkout", checkoutHandler(deps.Stripe, store))
		payments.POST("/stripe/webhook", stripeWebhookHandler(deps.Stripe, orchestrator))
	}

	auth.SetupRoutes(r, deps.Auth)

	admin := r.Group("/admin", deps.Auth.AuthMiddleware())
	{
		admin.GET("", adminIndexHandler)
		admin.GET("/data", adminDataHandler(store))
		admin.POST("/approve", approveHandler(orchestrator))
		admin.POST("/edit", editHandler(orchestrator))
		admin.POST("/delete", deleteHandler(orchestrator))
		admin.POST("/filter", filterHandler(store))
		admin.GET("/export", exportHandler(store))
		admin.GET("/config", getConfigHandler(store))
		admin.POST("/config", updateConfigHandler(store))
		admin.GET("/prompt", getPromptHandler(store))
		admin.POST("/prompt", updatePromptHandler(store))
		admin.GET("/template", getTemplateHandler(store))
		admin.POST("/template", updateTemplateHandler(store))
		admin.POST("/upload-card", uploadCardHandler(deps.Cards))
		admin.GET("/cards", listCardsHandler(deps.Cards))
		admin.POST("/delete-card", deleteCardHandler(deps.Cards))
		admin.POST("/generate-pdf", generatePDFHandler(orchestrator))
		if deps.AdminWS != nil {
			admin.GET("/ws", func(c *gin.Context) {
				deps.AdminWS.HandleWebSocket(c.Writer, c.Request)
			})
		}
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BaseURL builds the absolute prefix for image and PDF links sent to the
// chat platform.
type BaseURL struct {
	Public     string
	Production bool
}

func (b BaseURL) For(c *gin.Context) string {
	if b.Public != "" {
		return strings.TrimRight(b.Public, "/")
	}
	scheme := "http"
	if b.Production {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
