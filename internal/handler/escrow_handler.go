// Package handler exposes the engine over HTTP with gin. Handlers bind and
// validate the wire shapes; every decision beyond that lives in application.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/application"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/middleware"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/response"
)

// EscrowHandler serves the escrow lifecycle endpoints.
type EscrowHandler struct {
	service     *application.EscrowService
	frontendURL string
}

// NewEscrowHandler creates the escrow handler.
func NewEscrowHandler(service *application.EscrowService, frontendURL string) *EscrowHandler {
	return &EscrowHandler{service: service, frontendURL: frontendURL}
}

// actorFrom builds the application actor from the authenticated request.
func actorFrom(c *gin.Context) *application.Actor {
	id, ok := middleware.GetUserID(c)
	if !ok {
		return nil
	}
	role, _ := middleware.GetRole(c)
	email, _ := middleware.GetEmail(c)
	return &application.Actor{ID: id, Email: email, Role: role, IP: c.ClientIP()}
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

type createFromProposalRequest struct {
	JobProposalID uuid.UUID `json:"job_proposal_id" binding:"required"`
	Terms         string    `json:"terms"`
}

// CreateFromJobProposal opens an escrow for an accepted job proposal.
func (h *EscrowHandler) CreateFromJobProposal(c *gin.Context) {
	var req createFromProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "job_proposal_id is required")
		return
	}

	res, err := h.service.CreateFromJobProposal(c.Request.Context(), actorFrom(c), req.JobProposalID, req.Terms)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.created(c, res)
}

type createFromCampaignRequest struct {
	CampaignID uuid.UUID `json:"campaign_id" binding:"required"`
	CreatorID  uuid.UUID `json:"creator_id" binding:"required"`
	Terms      string    `json:"terms"`
}

// CreateFromCampaign opens a milestone escrow for a campaign and one creator.
func (h *EscrowHandler) CreateFromCampaign(c *gin.Context) {
	var req createFromCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "campaign_id and creator_id are required")
		return
	}

	res, err := h.service.CreateFromCampaign(c.Request.Context(), actorFrom(c), req.CampaignID, req.CreatorID, req.Terms)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.created(c, res)
}

type createFromServiceRequestRequest struct {
	ServiceRequestID uuid.UUID `json:"service_request_id" binding:"required"`
	CreatorID        uuid.UUID `json:"creator_id" binding:"required"`
	Terms            string    `json:"terms"`
}

// CreateFromServiceRequest opens an escrow for an accepted service request.
func (h *EscrowHandler) CreateFromServiceRequest(c *gin.Context) {
	var req createFromServiceRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "service_request_id and creator_id are required")
		return
	}

	res, err := h.service.CreateFromServiceRequest(c.Request.Context(), actorFrom(c), req.ServiceRequestID, req.CreatorID, req.Terms)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.created(c, res)
}

func (h *EscrowHandler) created(c *gin.Context, res *application.CreateResult) {
	response.Created(c, gin.H{
		"escrow":            toEscrowDTO(res.Escrow, res.Milestones),
		"authorization_url": res.AuthorizationURL,
	})
}

// VerifyPayment confirms the buyer's charge and funds the escrow.
func (h *EscrowHandler) VerifyPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, err := h.service.VerifyPayment(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

// StartWork signals the seller started working.
func (h *EscrowHandler) StartWork(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, err := h.service.StartWork(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

type deliverRequest struct {
	Note string `json:"note"`
}

// Deliver marks the work delivered.
func (h *EscrowHandler) Deliver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req deliverRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Deliver(c.Request.Context(), actorFrom(c), id, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

// Release pays the seller.
func (h *EscrowHandler) Release(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, err := h.service.Release(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute freezes the escrow pending an admin verdict.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "reason is required")
		return
	}

	e, err := h.service.RaiseDispute(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// Refund returns the funds to the buyer before delivery.
func (h *EscrowHandler) Refund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Refund(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel voids a PENDING escrow.
func (h *EscrowHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Cancel(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

type deliverMilestoneRequest struct {
	Note string `json:"note"`
}

// DeliverMilestone marks one milestone delivered.
func (h *EscrowHandler) DeliverMilestone(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	milestoneID, ok := pathID(c, "milestoneId")
	if !ok {
		return
	}
	var req deliverMilestoneRequest
	_ = c.ShouldBindJSON(&req)

	m, err := h.service.DeliverMilestone(c.Request.Context(), actorFrom(c), id, milestoneID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toMilestoneDTO(m))
}

// ReleaseMilestone pays out one delivered milestone.
func (h *EscrowHandler) ReleaseMilestone(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	milestoneID, ok := pathID(c, "milestoneId")
	if !ok {
		return
	}

	m, err := h.service.ReleaseMilestone(c.Request.Context(), actorFrom(c), id, milestoneID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toMilestoneDTO(m))
}

// Get returns one escrow with its milestones.
func (h *EscrowHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, milestones, err := h.service.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, milestones))
}

// List returns the caller's escrows.
func (h *EscrowHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	escrows, total, err := h.service.List(c.Request.Context(), actorFrom(c), application.ListInput{
		Status: c.Query("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]EscrowDTO, len(escrows))
	for i, e := range escrows {
		out[i] = toEscrowDTO(e, nil)
	}
	response.Paginated(c, out, page, limit, total)
}

// Events returns the escrow's audit trail.
func (h *EscrowHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	evs, err := h.service.Events(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]EventDTO, len(evs))
	for i, ev := range evs {
		out[i] = toEventDTO(ev)
	}
	response.Success(c, out)
}

// Stats returns the dashboard aggregate.
func (h *EscrowHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

type resolveRequest struct {
	Resolution   string `json:"resolution" binding:"required"`
	SplitPercent *int   `json:"split_percent"`
	Note         string `json:"note"`
}

// Resolve applies an admin verdict to a disputed escrow.
func (h *EscrowHandler) Resolve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "resolution is required")
		return
	}

	e, err := h.service.ResolveDispute(c.Request.Context(), actorFrom(c), id, application.ResolveInput{
		Resolution:   escrow.Resolution(req.Resolution),
		SplitPercent: req.SplitPercent,
		Note:         req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toEscrowDTO(e, nil))
}

// PaymentCallback is where the provider's hosted page lands the buyer after
// payment. It redirects to the frontend, which then calls verify-payment.
func (h *EscrowHandler) PaymentCallback(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	c.Redirect(http.StatusFound, h.frontendURL+"/payments/complete?reference="+reference)
}
