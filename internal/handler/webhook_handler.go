package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/application"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/response"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider webhooks. It is unauthenticated; the HMAC
// signature over the raw body is the only credential.
type WebhookHandler struct {
	service *application.WebhookService
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(service *application.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// HandlePaystack ingests one delivery. Responds 200 as soon as the delivery
// is authenticated and registered; bad signatures get 401 so the provider
// retries once configuration is fixed.
func (h *WebhookHandler) HandlePaystack(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	err = h.service.Ingest(c.Request.Context(), body, c.GetHeader("X-Paystack-Signature"))
	if err != nil {
		if domain.KindOf(err) == domain.KindAuthorization {
			c.JSON(http.StatusUnauthorized, response.Envelope{
				OK:    false,
				Error: &response.ErrorBody{Kind: string(domain.KindAuthorization), Message: "invalid signature"},
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"received": true})
}
