package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/health"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/middleware"
)

// Router bundles the handlers behind the service's route table.
type Router struct {
	Escrows       *EscrowHandler
	Payouts       *PayoutHandler
	Webhooks      *WebhookHandler
	Notifications *NotificationHandler
}

// Build assembles the gin engine: middleware chain, probes, and the API
// surface.
func (rt *Router) Build(db *gorm.DB, jwtManager *auth.JWTManager, appEnv string, logger *zap.Logger) *gin.Engine {
	if appEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.SecurityHeadersMiddleware(),
		middleware.CORSMiddleware(),
	)

	health.NewHandler(db, "service-escrow").RegisterRoutes(r)

	api := r.Group("/api/v1")

	// Unauthenticated: provider callbacks.
	api.POST("/webhooks/paystack", rt.Webhooks.HandlePaystack)
	api.GET("/payments/callback", rt.Escrows.PaymentCallback)

	authed := api.Group("", middleware.AuthMiddleware(jwtManager))

	escrows := authed.Group("/escrows")
	{
		escrows.POST("/job-proposal", rt.Escrows.CreateFromJobProposal)
		escrows.POST("/campaign", rt.Escrows.CreateFromCampaign)
		escrows.POST("/service-request", rt.Escrows.CreateFromServiceRequest)

		escrows.GET("", rt.Escrows.List)
		escrows.GET("/stats", rt.Escrows.Stats)
		escrows.GET("/:id", rt.Escrows.Get)
		escrows.GET("/:id/events", rt.Escrows.Events)

		escrows.POST("/:id/verify-payment", rt.Escrows.VerifyPayment)
		escrows.POST("/:id/start", rt.Escrows.StartWork)
		escrows.POST("/:id/deliver", rt.Escrows.Deliver)
		escrows.POST("/:id/release", rt.Escrows.Release)
		escrows.POST("/:id/dispute", rt.Escrows.Dispute)
		escrows.POST("/:id/refund", rt.Escrows.Refund)
		escrows.POST("/:id/cancel", rt.Escrows.Cancel)

		escrows.POST("/:id/milestones/:milestoneId/deliver", rt.Escrows.DeliverMilestone)
		escrows.POST("/:id/milestones/:milestoneId/release", rt.Escrows.ReleaseMilestone)

		escrows.POST("/:id/resolve", middleware.RequireRole(auth.RoleAdmin), rt.Escrows.Resolve)
	}

	payouts := authed.Group("/payout-accounts")
	{
		payouts.POST("", rt.Payouts.Setup)
		payouts.GET("", rt.Payouts.Active)
		payouts.DELETE("", rt.Payouts.Remove)
	}

	authed.GET("/banks", rt.Payouts.Banks)
	authed.GET("/banks/resolve", rt.Payouts.ResolveAccount)

	notifications := authed.Group("/notifications")
	{
		notifications.GET("", rt.Notifications.List)
		notifications.POST("/:id/read", rt.Notifications.MarkRead)
	}

	return r
}
