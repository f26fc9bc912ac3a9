package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	escrowDomain "github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/payout"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// PayoutAccountModel is the GORM persistence model for seller_payout_accounts.
// A partial unique index (user_id WHERE is_active) enforces the single active
// account per user; see the migration.
type PayoutAccountModel struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID                uuid.UUID `gorm:"type:uuid;not null;index"`
	PayoutMethod          string    `gorm:"type:varchar(20);not null"`
	MobileMoneyNumber     string    `gorm:"type:varchar(20)"`
	BankAccountNumber     string    `gorm:"type:varchar(30)"`
	BankCode              string    `gorm:"type:varchar(10)"`
	BankAccountName       string    `gorm:"type:varchar(255)"`
	ProviderRecipientCode string    `gorm:"type:varchar(100);not null"`
	IsActive              bool      `gorm:"not null;default:true"`
	CreatedAt             time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt             time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (PayoutAccountModel) TableName() string { return "seller_payout_accounts" }

// PayoutRepositoryImpl is the GORM-based payout account repository.
type PayoutRepositoryImpl struct {
	db *gorm.DB
}

// NewPayoutRepository creates a GORM-backed payout account repository.
func NewPayoutRepository(db *gorm.DB) *PayoutRepositoryImpl {
	return &PayoutRepositoryImpl{db: db}
}

func (r *PayoutRepositoryImpl) ActiveByUser(ctx context.Context, userID uuid.UUID) (*payout.Account, error) {
	var model PayoutAccountModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = true", userID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("payout account", userID.String())
		}
		return nil, err
	}
	return toAccountDomain(&model), nil
}

func (r *PayoutRepositoryImpl) Save(ctx context.Context, a *payout.Account) error {
	if err := r.db.WithContext(ctx).Create(toAccountModel(a)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.NewConflictError("an active payout account already exists")
		}
		return err
	}
	return nil
}

func (r *PayoutRepositoryImpl) Update(ctx context.Context, a *payout.Account) error {
	return r.db.WithContext(ctx).Save(toAccountModel(a)).Error
}

func toAccountModel(a *payout.Account) *PayoutAccountModel {
	s := a.Snapshot()
	return &PayoutAccountModel{
		ID:                    s.ID,
		UserID:                s.UserID,
		PayoutMethod:          string(s.PayoutMethod),
		MobileMoneyNumber:     s.MobileMoneyNumber,
		BankAccountNumber:     s.BankAccountNumber,
		BankCode:              s.BankCode,
		BankAccountName:       s.BankAccountName,
		ProviderRecipientCode: s.ProviderRecipientCode,
		IsActive:              s.IsActive,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func toAccountDomain(m *PayoutAccountModel) *payout.Account {
	return payout.Reconstitute(payout.Snapshot{
		ID:                    m.ID,
		UserID:                m.UserID,
		PayoutMethod:          escrowDomain.PayoutMethod(m.PayoutMethod),
		MobileMoneyNumber:     m.MobileMoneyNumber,
		BankAccountNumber:     m.BankAccountNumber,
		BankCode:              m.BankCode,
		BankAccountName:       m.BankAccountName,
		ProviderRecipientCode: m.ProviderRecipientCode,
		IsActive:              m.IsActive,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	})
}
