package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/application"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/response"
)

// PayoutHandler serves the payout-account endpoints.
type PayoutHandler struct {
	service *application.PayoutService
}

// NewPayoutHandler creates the payout handler.
func NewPayoutHandler(service *application.PayoutService) *PayoutHandler {
	return &PayoutHandler{service: service}
}

type setupPayoutRequest struct {
	Method            string `json:"method" binding:"required"`
	MobileMoneyNumber string `json:"mobile_money_number"`
	BankAccountNumber string `json:"bank_account_number"`
	BankCode          string `json:"bank_code"`
	AccountName       string `json:"account_name"`
}

// Setup registers a payout destination for the authenticated creator.
func (h *PayoutHandler) Setup(c *gin.Context) {
	var req setupPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "method is required")
		return
	}

	account, err := h.service.Setup(c.Request.Context(), actorFrom(c), application.SetupInput{
		Method:            escrow.PayoutMethod(req.Method),
		MobileMoneyNumber: req.MobileMoneyNumber,
		BankAccountNumber: req.BankAccountNumber,
		BankCode:          req.BankCode,
		AccountName:       req.AccountName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toPayoutAccountDTO(account))
}

// Active returns the caller's active payout account.
func (h *PayoutHandler) Active(c *gin.Context) {
	account, err := h.service.Active(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toPayoutAccountDTO(account))
}

// Remove deactivates the caller's active payout account.
func (h *PayoutHandler) Remove(c *gin.Context) {
	if err := h.service.Remove(c.Request.Context(), actorFrom(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"removed": true})
}

// Banks lists the payout banks for the platform currency.
func (h *PayoutHandler) Banks(c *gin.Context) {
	banks, err := h.service.Banks(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, banks)
}

// ResolveAccount returns the holder name for a bank account.
func (h *PayoutHandler) ResolveAccount(c *gin.Context) {
	name, err := h.service.ResolveAccount(c.Request.Context(), c.Query("account_number"), c.Query("bank_code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"account_name": name})
}
