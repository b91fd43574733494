package api

import (
	"net/http"

	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
)

// Deps are the services the HTTP surface is built on.
// Archive and WhatsApp may be nil when not configured.
type Deps struct {
	JWTSecret     string
	Auth          service.AuthService
	Plans         service.PlanService
	Resolver      service.Resolver
	Contacts      service.ContactService
	Archive       service.DecisionArchive
	PushPublicKey string
	WhatsApp      WebhookValidator
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	RegisterValidators()

	authHandler := NewAuthHandler(deps.Auth)
	planHandler := NewPlanHandler(deps.Plans, deps.Resolver)
	contactHandler := NewContactHandler(deps.Contacts, deps.Archive, deps.PushPublicKey)
	webhookHandler := NewWebhookHandler(deps.WhatsApp, deps.Resolver)

	authMiddleware := AuthMiddleware(deps.JWTSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/auth/login", authHandler.Login)

		// Guardian-facing routes, reached from notifications and deep links
		apiV1.GET("/plan-approvals/:id", planHandler.GetPlanApproval)
		apiV1.POST("/plan-approvals/:id/decision", planHandler.DecidePlanApproval)
		apiV1.POST("/plans/:id/classes/:ordinal/signature-decision", planHandler.DecideClassSignature)
		apiV1.GET("/class-signatures/:pendingId", planHandler.GetClassSignature)

		apiV1.GET("/push/public-key", contactHandler.PushPublicKey)
		apiV1.POST("/push/subscriptions", contactHandler.RegisterPush)
		apiV1.POST("/contacts/whatsapp", contactHandler.RegisterWhatsApp)

		apiV1.POST("/webhooks/whatsapp", webhookHandler.WhatsApp)
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			operator, err := getOperatorFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to get operator from token")
				return
			}
			c.JSON(http.StatusOK, gin.H{"operator": operator, "role": service.OperatorRole})
		})

		protected.POST("/plan-approvals", planHandler.SubmitPlanApproval)

		// --- Plans ---
		plans := protected.Group("/plans")
		{
			plans.GET("", planHandler.SearchPlan)
			plans.GET("/all", planHandler.ListPlans)
			plans.GET("/:id", planHandler.GetPlan)
			plans.DELETE("/:id", planHandler.DeletePlan)
			plans.PATCH("/:id/classes/:ordinal", planHandler.ToggleClass)
			plans.POST("/:id/classes/:ordinal/signature-request", planHandler.RequestClassSignature)
		}

		// --- Contacts ---
		protected.POST("/contacts/email", contactHandler.RegisterEmail)
		protected.GET("/contacts/:phone", contactHandler.GetContact)
		protected.DELETE("/contacts/:phone", contactHandler.DeleteContact)

		protected.GET("/decisions/:pendingId/receipt", contactHandler.ReceiptURL)
	}
}
