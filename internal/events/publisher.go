package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/kafka"
)

// Publisher announces escrow lifecycle transitions on the event bus.
// Publishing is best effort: a broker outage must never fail the transition
// that already committed.
type Publisher struct {
	producer *kafka.Producer
	logger   *zap.Logger
}

// NewPublisher creates an escrow event publisher.
func NewPublisher(producer *kafka.Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// Publish emits one CloudEvent for the escrow's current state. Errors are
// logged, not returned.
func (p *Publisher) Publish(ctx context.Context, eventType string, e *escrow.Escrow) {
	if p.producer == nil {
		return
	}

	data := EscrowEventData{
		EscrowID:     e.ID(),
		BuyerID:      e.BuyerID(),
		SellerID:     e.SellerID(),
		SourceType:   string(e.SourceType()),
		Status:       string(e.Status()),
		Currency:     e.Currency(),
		TotalAmount:  e.TotalAmount(),
		SellerAmount: e.SellerAmount(),
		OccurredAt:   time.Now().UTC(),
	}

	ce, err := kafka.NewCloudEvent(Source, eventType, data)
	if err != nil {
		p.logger.Error("build escrow event", zap.Error(err), zap.String("type", eventType))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.producer.PublishEvent(ctx, TopicEscrowEvents, ce); err != nil {
		p.logger.Error("publish escrow event",
			zap.Error(err),
			zap.String("type", eventType),
			zap.String("escrow_id", e.ID().String()),
		)
	}
}
