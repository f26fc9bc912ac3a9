package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	escrowDomain "github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// EscrowModel is the GORM persistence model for the escrows table.
type EscrowModel struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	BuyerID  uuid.UUID `gorm:"type:uuid;not null;index"`
	SellerID uuid.UUID `gorm:"type:uuid;not null;index"`

	SourceType       string     `gorm:"type:varchar(30);not null"`
	JobProposalID    *uuid.UUID `gorm:"type:uuid;index"`
	JobID            *uuid.UUID `gorm:"type:uuid"`
	CampaignID       *uuid.UUID `gorm:"type:uuid;index"`
	ServiceRequestID *uuid.UUID `gorm:"type:uuid;index"`

	Title    string `gorm:"type:varchar(255);not null"`
	Currency string `gorm:"type:varchar(3);not null;default:'KES'"`

	TotalAmount  int64 `gorm:"not null"`
	FeeAmount    int64 `gorm:"not null"`
	SellerAmount int64 `gorm:"not null"`

	Status               string `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	InspectionPeriodDays int    `gorm:"not null;default:7"`

	PaymentRef        *string `gorm:"type:varchar(100);uniqueIndex"`
	PaymentAccessCode string  `gorm:"type:varchar(100)"`
	TransferRef       *string `gorm:"type:varchar(100);index"`

	SellerRecipientCode string `gorm:"type:varchar(100)"`
	SellerPayoutMethod  string `gorm:"type:varchar(20)"`

	DisputeReason     string     `gorm:"type:text"`
	DisputeRaisedBy   *uuid.UUID `gorm:"type:uuid"`
	DisputeResolution string     `gorm:"type:varchar(30)"`
	SplitPercent      *int

	CancelledBy        *uuid.UUID `gorm:"type:uuid"`
	CancellationReason string     `gorm:"type:text"`

	DeliveryNote       string `gorm:"type:text"`
	Terms              string `gorm:"type:text"`
	Metadata           string `gorm:"type:jsonb;default:'{}'"`
	TransferFailReason string `gorm:"type:text"`

	CreatedAt           time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	PaymentConfirmedAt  *time.Time `gorm:"type:timestamptz"`
	DeliveryConfirmedAt *time.Time `gorm:"type:timestamptz"`
	AutoReleaseAt       *time.Time `gorm:"type:timestamptz;index"`
	FundsReleasedAt     *time.Time `gorm:"type:timestamptz"`
	TransferConfirmedAt *time.Time `gorm:"type:timestamptz"`
	TransferFailedAt    *time.Time `gorm:"type:timestamptz"`
	RefundConfirmedAt   *time.Time `gorm:"type:timestamptz"`
	CancelledAt         *time.Time `gorm:"type:timestamptz"`
	DisputeResolvedAt   *time.Time `gorm:"type:timestamptz"`
}

func (EscrowModel) TableName() string { return "escrows" }

// MilestoneModel is the GORM persistence model for milestone_payments.
type MilestoneModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	EscrowID          uuid.UUID  `gorm:"type:uuid;not null;index;constraint:OnDelete:CASCADE"`
	SourceMilestoneID int        `gorm:"not null"`
	Title             string     `gorm:"type:varchar(255);not null"`
	Amount            int64      `gorm:"not null"`
	OrderIndex        int        `gorm:"not null;default:0"`
	Status            string     `gorm:"type:varchar(20);not null;default:'PENDING'"`
	DueDate           *time.Time `gorm:"type:timestamptz"`
	DeliveredAt       *time.Time `gorm:"type:timestamptz"`
	ReleasedAt        *time.Time `gorm:"type:timestamptz"`
	DeliveryNote      string     `gorm:"type:text"`
	RejectionReason   string     `gorm:"type:text"`
	TransferRef       *string    `gorm:"type:varchar(100);index"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

func (MilestoneModel) TableName() string { return "milestone_payments" }

// EscrowEventModel is the GORM persistence model for the append-only audit
// log. Rows are INSERT-only.
type EscrowEventModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	EscrowID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	MilestoneID *uuid.UUID `gorm:"type:uuid"`
	ActorID     *uuid.UUID `gorm:"type:uuid"`
	EventType   string     `gorm:"type:varchar(50);not null"`
	Description string     `gorm:"type:text"`
	Metadata    string     `gorm:"type:jsonb;default:'{}'"`
	IPAddress   string     `gorm:"type:varchar(45)"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

func (EscrowEventModel) TableName() string { return "escrow_events" }

// EscrowRepositoryImpl is the GORM-based implementation of the escrow
// repository. Per-escrow serialization relies on SELECT ... FOR UPDATE inside
// InTx; no aggregate is cached between calls.
type EscrowRepositoryImpl struct {
	db *gorm.DB
}

// NewEscrowRepository creates a GORM-backed escrow repository.
func NewEscrowRepository(db *gorm.DB) *EscrowRepositoryImpl {
	return &EscrowRepositoryImpl{db: db}
}

// Create inserts the escrow, its milestone snapshot, and the created event in
// one transaction.
func (r *EscrowRepositoryImpl) Create(ctx context.Context, e *escrowDomain.Escrow, milestones []*escrowDomain.Milestone, ev *escrowDomain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toEscrowModel(e)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewConflictError("escrow already exists for this reference")
			}
			return err
		}
		for _, m := range milestones {
			if err := tx.Create(toMilestoneModel(m)).Error; err != nil {
				return err
			}
		}
		if ev != nil {
			if err := tx.Create(toEventModel(ev)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Update persists non-transition mutations without a row lock.
func (r *EscrowRepositoryImpl) Update(ctx context.Context, e *escrowDomain.Escrow) error {
	return r.db.WithContext(ctx).Save(toEscrowModel(e)).Error
}

func (r *EscrowRepositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*escrowDomain.Escrow, error) {
	var model EscrowModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("escrow", id.String())
		}
		return nil, err
	}
	return toEscrowDomain(&model), nil
}

func (r *EscrowRepositoryImpl) FindByPaymentRef(ctx context.Context, ref string) (*escrowDomain.Escrow, error) {
	var model EscrowModel
	if err := r.db.WithContext(ctx).Where("payment_ref = ?", ref).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("escrow", ref)
		}
		return nil, err
	}
	return toEscrowDomain(&model), nil
}

func (r *EscrowRepositoryImpl) FindByTransferRef(ctx context.Context, ref string) (*escrowDomain.Escrow, error) {
	var model EscrowModel
	if err := r.db.WithContext(ctx).Where("transfer_ref = ?", ref).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("escrow", ref)
		}
		return nil, err
	}
	return toEscrowDomain(&model), nil
}

func (r *EscrowRepositoryImpl) Milestones(ctx context.Context, escrowID uuid.UUID) ([]*escrowDomain.Milestone, error) {
	var models []MilestoneModel
	if err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).Order("order_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*escrowDomain.Milestone, len(models))
	for i := range models {
		out[i] = toMilestoneDomain(&models[i])
	}
	return out, nil
}

func (r *EscrowRepositoryImpl) FindMilestone(ctx context.Context, id uuid.UUID) (*escrowDomain.Milestone, error) {
	var model MilestoneModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("milestone", id.String())
		}
		return nil, err
	}
	return toMilestoneDomain(&model), nil
}

func (r *EscrowRepositoryImpl) FindMilestoneByTransferRef(ctx context.Context, ref string) (*escrowDomain.Milestone, error) {
	var model MilestoneModel
	if err := r.db.WithContext(ctx).Where("transfer_ref = ?", ref).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("milestone", ref)
		}
		return nil, err
	}
	return toMilestoneDomain(&model), nil
}

// FindPendingBySource returns PENDING escrows opened from a source object.
func (r *EscrowRepositoryImpl) FindPendingBySource(ctx context.Context, st escrowDomain.SourceType, sourceID uuid.UUID) ([]*escrowDomain.Escrow, error) {
	q := r.db.WithContext(ctx).Where("status = ?", string(escrowDomain.StatusPending))
	switch st {
	case escrowDomain.SourceJobProposal:
		q = q.Where("job_proposal_id = ?", sourceID)
	case escrowDomain.SourceCampaign:
		q = q.Where("campaign_id = ?", sourceID)
	case escrowDomain.SourceServiceRequest:
		q = q.Where("service_request_id = ?", sourceID)
	default:
		return nil, domain.NewValidationError("unknown source type %q", st)
	}

	var models []EscrowModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*escrowDomain.Escrow, len(models))
	for i := range models {
		out[i] = toEscrowDomain(&models[i])
	}
	return out, nil
}

// List returns a filtered page ordered newest first.
func (r *EscrowRepositoryImpl) List(ctx context.Context, f escrowDomain.ListFilter) ([]*escrowDomain.Escrow, int64, error) {
	q := r.db.WithContext(ctx).Model(&EscrowModel{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	switch {
	case f.BuyerID != nil && f.SellerID != nil:
		q = q.Where("buyer_id = ? OR seller_id = ?", *f.BuyerID, *f.SellerID)
	case f.BuyerID != nil:
		q = q.Where("buyer_id = ?", *f.BuyerID)
	case f.SellerID != nil:
		q = q.Where("seller_id = ?", *f.SellerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var models []EscrowModel
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*escrowDomain.Escrow, len(models))
	for i := range models {
		out[i] = toEscrowDomain(&models[i])
	}
	return out, total, nil
}

// Stats computes the dashboard aggregate.
func (r *EscrowRepositoryImpl) Stats(ctx context.Context, f escrowDomain.StatsFilter) (*escrowDomain.Stats, error) {
	scope := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&EscrowModel{})
		if f.UserID != nil {
			q = q.Where("buyer_id = ? OR seller_id = ?", *f.UserID, *f.UserID)
		}
		return q
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := scope().Select("status, count(*) as count").Group("status").Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[escrowDomain.Status]int64, len(rows))
	for _, row := range rows {
		counts[escrowDomain.Status(row.Status)] = row.Count
	}

	stats := &escrowDomain.Stats{CountByStatus: counts}
	heldStatuses := []string{
		string(escrowDomain.StatusFunded),
		string(escrowDomain.StatusInProgress),
		string(escrowDomain.StatusDelivered),
		string(escrowDomain.StatusDisputed),
	}
	if err := scope().Where("status IN ?", heldStatuses).
		Select("COALESCE(SUM(total_amount), 0)").Scan(&stats.TotalHeld).Error; err != nil {
		return nil, err
	}
	if err := scope().Where("status = ?", string(escrowDomain.StatusReleased)).
		Select("COALESCE(SUM(seller_amount), 0)").Scan(&stats.TotalReleased).Error; err != nil {
		return nil, err
	}
	if err := scope().Where("status = ?", string(escrowDomain.StatusReleased)).
		Select("COALESCE(SUM(fee_amount), 0)").Scan(&stats.FeesEarned).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *EscrowRepositoryImpl) DueForAutoRelease(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&EscrowModel{}).
		Where("status = ? AND auto_release_at IS NOT NULL AND auto_release_at <= ?", string(escrowDomain.StatusDelivered), now).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *EscrowRepositoryImpl) ApproachingAutoRelease(ctx context.Context, now time.Time, window time.Duration) ([]*escrowDomain.Escrow, error) {
	var models []EscrowModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND auto_release_at > ? AND auto_release_at <= ?", string(escrowDomain.StatusDelivered), now, now.Add(window)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*escrowDomain.Escrow, len(models))
	for i := range models {
		out[i] = toEscrowDomain(&models[i])
	}
	return out, nil
}

// InTx locks the escrow row for the duration of fn. Everything written
// through the Tx commits atomically; fn returning an error rolls back.
func (r *EscrowRepositoryImpl) InTx(ctx context.Context, escrowID uuid.UUID, fn func(tx escrowDomain.Tx, e *escrowDomain.Escrow) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model EscrowModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", escrowID).First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewNotFoundError("escrow", escrowID.String())
			}
			return err
		}
		return fn(&escrowTx{tx: tx, escrowID: escrowID}, toEscrowDomain(&model))
	})
}

// escrowTx is the transaction-scoped unit of work handed to InTx callbacks.
type escrowTx struct {
	tx       *gorm.DB
	escrowID uuid.UUID
}

func (t *escrowTx) Update(e *escrowDomain.Escrow) error {
	return t.tx.Save(toEscrowModel(e)).Error
}

func (t *escrowTx) Milestones() ([]*escrowDomain.Milestone, error) {
	var models []MilestoneModel
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("escrow_id = ?", t.escrowID).Order("order_index ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*escrowDomain.Milestone, len(models))
	for i := range models {
		out[i] = toMilestoneDomain(&models[i])
	}
	return out, nil
}

func (t *escrowTx) FindMilestone(id uuid.UUID) (*escrowDomain.Milestone, error) {
	var model MilestoneModel
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND escrow_id = ?", id, t.escrowID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("milestone", id.String())
		}
		return nil, err
	}
	return toMilestoneDomain(&model), nil
}

func (t *escrowTx) UpdateMilestone(m *escrowDomain.Milestone) error {
	return t.tx.Save(toMilestoneModel(m)).Error
}

func (t *escrowTx) AppendEvent(ev *escrowDomain.Event) error {
	return t.tx.Create(toEventModel(ev)).Error
}

// --- Mapping ---

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilToStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func toEscrowModel(e *escrowDomain.Escrow) *EscrowModel {
	s := e.Snapshot()
	return &EscrowModel{
		ID:                   s.ID,
		BuyerID:              s.BuyerID,
		SellerID:             s.SellerID,
		SourceType:           string(s.SourceType),
		JobProposalID:        s.JobProposalID,
		JobID:                s.JobID,
		CampaignID:           s.CampaignID,
		ServiceRequestID:     s.ServiceRequestID,
		Title:                s.Title,
		Currency:             s.Currency,
		TotalAmount:          s.TotalAmount,
		FeeAmount:            s.FeeAmount,
		SellerAmount:         s.SellerAmount,
		Status:               string(s.Status),
		InspectionPeriodDays: s.InspectionPeriodDays,
		PaymentRef:           strOrNil(s.PaymentRef),
		PaymentAccessCode:    s.PaymentAccessCode,
		TransferRef:          strOrNil(s.TransferRef),
		SellerRecipientCode:  s.SellerRecipientCode,
		SellerPayoutMethod:   string(s.SellerPayoutMethod),
		DisputeReason:        s.DisputeReason,
		DisputeRaisedBy:      s.DisputeRaisedBy,
		DisputeResolution:    string(s.DisputeResolution),
		SplitPercent:         s.SplitPercent,
		CancelledBy:          s.CancelledBy,
		CancellationReason:   s.CancellationReason,
		DeliveryNote:         s.DeliveryNote,
		Terms:                s.Terms,
		Metadata:             s.Metadata,
		TransferFailReason:   s.TransferFailReason,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
		PaymentConfirmedAt:   s.PaymentConfirmedAt,
		DeliveryConfirmedAt:  s.DeliveryConfirmedAt,
		AutoReleaseAt:        s.AutoReleaseAt,
		FundsReleasedAt:      s.FundsReleasedAt,
		TransferConfirmedAt:  s.TransferConfirmedAt,
		TransferFailedAt:     s.TransferFailedAt,
		RefundConfirmedAt:    s.RefundConfirmedAt,
		CancelledAt:          s.CancelledAt,
		DisputeResolvedAt:    s.DisputeResolvedAt,
	}
}

func toEscrowDomain(m *EscrowModel) *escrowDomain.Escrow {
	return escrowDomain.Reconstitute(escrowDomain.Snapshot{
		ID:                   m.ID,
		BuyerID:              m.BuyerID,
		SellerID:             m.SellerID,
		SourceType:           escrowDomain.SourceType(m.SourceType),
		JobProposalID:        m.JobProposalID,
		JobID:                m.JobID,
		CampaignID:           m.CampaignID,
		ServiceRequestID:     m.ServiceRequestID,
		Title:                m.Title,
		Currency:             m.Currency,
		TotalAmount:          m.TotalAmount,
		FeeAmount:            m.FeeAmount,
		SellerAmount:         m.SellerAmount,
		Status:               escrowDomain.Status(m.Status),
		InspectionPeriodDays: m.InspectionPeriodDays,
		PaymentRef:           nilToStr(m.PaymentRef),
		PaymentAccessCode:    m.PaymentAccessCode,
		TransferRef:          nilToStr(m.TransferRef),
		SellerRecipientCode:  m.SellerRecipientCode,
		SellerPayoutMethod:   escrowDomain.PayoutMethod(m.SellerPayoutMethod),
		DisputeReason:        m.DisputeReason,
		DisputeRaisedBy:      m.DisputeRaisedBy,
		DisputeResolution:    escrowDomain.Resolution(m.DisputeResolution),
		SplitPercent:         m.SplitPercent,
		CancelledBy:          m.CancelledBy,
		CancellationReason:   m.CancellationReason,
		DeliveryNote:         m.DeliveryNote,
		Terms:                m.Terms,
		Metadata:             m.Metadata,
		TransferFailReason:   m.TransferFailReason,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
		PaymentConfirmedAt:   m.PaymentConfirmedAt,
		DeliveryConfirmedAt:  m.DeliveryConfirmedAt,
		AutoReleaseAt:        m.AutoReleaseAt,
		FundsReleasedAt:      m.FundsReleasedAt,
		TransferConfirmedAt:  m.TransferConfirmedAt,
		TransferFailedAt:     m.TransferFailedAt,
		RefundConfirmedAt:    m.RefundConfirmedAt,
		CancelledAt:          m.CancelledAt,
		DisputeResolvedAt:    m.DisputeResolvedAt,
	})
}

func toMilestoneModel(m *escrowDomain.Milestone) *MilestoneModel {
	s := m.Snapshot()
	return &MilestoneModel{
		ID:                s.ID,
		EscrowID:          s.EscrowID,
		SourceMilestoneID: s.SourceMilestoneID,
		Title:             s.Title,
		Amount:            s.Amount,
		OrderIndex:        s.OrderIndex,
		Status:            string(s.Status),
		DueDate:           s.DueDate,
		DeliveredAt:       s.DeliveredAt,
		ReleasedAt:        s.ReleasedAt,
		DeliveryNote:      s.DeliveryNote,
		RejectionReason:   s.RejectionReason,
		TransferRef:       strOrNil(s.TransferRef),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toMilestoneDomain(m *MilestoneModel) *escrowDomain.Milestone {
	return escrowDomain.ReconstituteMilestone(escrowDomain.MilestoneSnapshot{
		ID:                m.ID,
		EscrowID:          m.EscrowID,
		SourceMilestoneID: m.SourceMilestoneID,
		Title:             m.Title,
		Amount:            m.Amount,
		OrderIndex:        m.OrderIndex,
		Status:            escrowDomain.MilestoneStatus(m.Status),
		DueDate:           m.DueDate,
		DeliveredAt:       m.DeliveredAt,
		ReleasedAt:        m.ReleasedAt,
		DeliveryNote:      m.DeliveryNote,
		RejectionReason:   m.RejectionReason,
		TransferRef:       nilToStr(m.TransferRef),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	})
}

func toEventModel(ev *escrowDomain.Event) *EscrowEventModel {
	metadata := ev.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	return &EscrowEventModel{
		ID:          ev.ID,
		EscrowID:    ev.EscrowID,
		MilestoneID: ev.MilestoneID,
		ActorID:     ev.ActorID,
		EventType:   ev.EventType,
		Description: ev.Description,
		Metadata:    metadata,
		IPAddress:   ev.IPAddress,
		CreatedAt:   ev.CreatedAt,
	}
}
