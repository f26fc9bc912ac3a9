package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	escrowDomain "github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/user"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// Read-only projections of marketplace tables owned by other services. The
// engine never writes these; their migrations here exist only for local
// development and the integration suite.

type userModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email       string    `gorm:"type:varchar(255)"`
	AccountType string    `gorm:"type:varchar(20)"`
	Role        string    `gorm:"type:varchar(20)"`
	CreatedAt   time.Time `gorm:"type:timestamptz"`
}

func (userModel) TableName() string { return "users" }

type jobModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	BrandID uuid.UUID `gorm:"type:uuid"`
	Title   string    `gorm:"type:varchar(255)"`
}

func (jobModel) TableName() string { return "jobs" }

type jobProposalModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobID          uuid.UUID `gorm:"type:uuid"`
	CreatorID      uuid.UUID `gorm:"type:uuid"`
	ProposedBudget string    `gorm:"type:numeric(12,2)"`
	Status         string    `gorm:"type:varchar(20)"`
}

func (jobProposalModel) TableName() string { return "job_proposals" }

type campaignModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	BrandID uuid.UUID `gorm:"type:uuid"`
	Title   string    `gorm:"type:varchar(255)"`
	Budget  string    `gorm:"type:numeric(12,2)"`
	Status  string    `gorm:"type:varchar(20)"`
}

func (campaignModel) TableName() string { return "campaigns" }

type campaignMilestoneModel struct {
	ID         int        `gorm:"primaryKey"`
	CampaignID uuid.UUID  `gorm:"type:uuid"`
	Title      string     `gorm:"type:varchar(255)"`
	Amount     string     `gorm:"type:numeric(12,2)"`
	OrderIndex int        `gorm:"column:order_index"`
	DueDate    *time.Time `gorm:"type:timestamptz"`
}

func (campaignMilestoneModel) TableName() string { return "campaign_milestones" }

type serviceRequestModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	BrandID   uuid.UUID `gorm:"type:uuid"`
	CreatorID uuid.UUID `gorm:"type:uuid"`
	Title     string    `gorm:"type:varchar(255)"`
	Price     string    `gorm:"type:numeric(12,2)"`
	Status    string    `gorm:"type:varchar(20)"`
}

func (serviceRequestModel) TableName() string { return "service_requests" }

// SourceRepositoryImpl resolves marketplace source objects and users from the
// shared database. It implements escrow.SourceResolver and user.Directory.
type SourceRepositoryImpl struct {
	db *gorm.DB
}

// NewSourceRepository creates a read-only resolver over the shared tables.
func NewSourceRepository(db *gorm.DB) *SourceRepositoryImpl {
	return &SourceRepositoryImpl{db: db}
}

// JobProposal resolves an accepted proposal into escrow parties and budget.
func (r *SourceRepositoryImpl) JobProposal(ctx context.Context, id uuid.UUID) (*escrowDomain.SourceInfo, error) {
	var proposal jobProposalModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&proposal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("job proposal", id.String())
		}
		return nil, err
	}
	if proposal.Status != "accepted" {
		return nil, domain.NewValidationError("proposal is not accepted")
	}

	var job jobModel
	if err := r.db.WithContext(ctx).Where("id = ?", proposal.JobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("job", proposal.JobID.String())
		}
		return nil, err
	}

	jobID := job.ID
	return &escrowDomain.SourceInfo{
		Type:     escrowDomain.SourceJobProposal,
		BuyerID:  job.BrandID,
		SellerID: proposal.CreatorID,
		JobID:    &jobID,
		Title:    job.Title,
		Amount:   proposal.ProposedBudget,
	}, nil
}

// Campaign resolves a campaign and its milestone schedule for one creator.
func (r *SourceRepositoryImpl) Campaign(ctx context.Context, id, sellerID uuid.UUID) (*escrowDomain.SourceInfo, error) {
	var campaign campaignModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("campaign", id.String())
		}
		return nil, err
	}
	if campaign.Status == "cancelled" || campaign.Status == "completed" {
		return nil, domain.NewValidationError("campaign is %s", campaign.Status)
	}

	var rows []campaignMilestoneModel
	if err := r.db.WithContext(ctx).
		Where("campaign_id = ?", id).
		Order("order_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	milestones := make([]escrowDomain.SourceMilestone, len(rows))
	for i, row := range rows {
		milestones[i] = escrowDomain.SourceMilestone{
			ID:         row.ID,
			Title:      row.Title,
			Amount:     row.Amount,
			OrderIndex: row.OrderIndex,
			DueDate:    row.DueDate,
		}
	}

	return &escrowDomain.SourceInfo{
		Type:       escrowDomain.SourceCampaign,
		BuyerID:    campaign.BrandID,
		SellerID:   sellerID,
		Title:      campaign.Title,
		Amount:     campaign.Budget,
		Milestones: milestones,
	}, nil
}

// ServiceRequest resolves a direct service request for one creator.
func (r *SourceRepositoryImpl) ServiceRequest(ctx context.Context, id, sellerID uuid.UUID) (*escrowDomain.SourceInfo, error) {
	var req serviceRequestModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("service request", id.String())
		}
		return nil, err
	}
	if req.CreatorID != sellerID {
		return nil, domain.NewAuthorizationError("service request belongs to another creator")
	}
	if req.Status != "accepted" {
		return nil, domain.NewValidationError("service request is not accepted")
	}

	return &escrowDomain.SourceInfo{
		Type:     escrowDomain.SourceServiceRequest,
		BuyerID:  req.BrandID,
		SellerID: req.CreatorID,
		Title:    req.Title,
		Amount:   req.Price,
	}, nil
}

// ByID looks up a user projection.
func (r *SourceRepositoryImpl) ByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	var model userModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("user", id.String())
		}
		return nil, err
	}
	return toUserDomain(&model), nil
}

// FirstAdmin returns the oldest admin account for operational notifications.
func (r *SourceRepositoryImpl) FirstAdmin(ctx context.Context) (*user.User, error) {
	var model userModel
	err := r.db.WithContext(ctx).
		Where("role = ?", string(auth.RoleAdmin)).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("admin user", "any")
		}
		return nil, err
	}
	return toUserDomain(&model), nil
}

func toUserDomain(m *userModel) *user.User {
	return &user.User{
		ID:          m.ID,
		Email:       m.Email,
		AccountType: auth.AccountType(m.AccountType),
		Role:        auth.Role(m.Role),
	}
}
