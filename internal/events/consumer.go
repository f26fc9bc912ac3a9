package events

import (
	"context"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/kafka"
)

// SourceCanceller voids PENDING escrows whose source object disappeared.
type SourceCanceller interface {
	CancelBySource(ctx context.Context, st escrow.SourceType, sourceID uuid.UUID, reason string) error
}

// MarketplaceConsumer reacts to marketplace events: a withdrawn proposal or a
// cancelled campaign voids any PENDING escrow opened from it. Funded escrows
// are never touched from here.
type MarketplaceConsumer struct {
	consumer *kafka.Consumer
	service  SourceCanceller
	logger   *zap.Logger
}

// NewMarketplaceConsumer creates the marketplace.events consumer.
func NewMarketplaceConsumer(consumer *kafka.Consumer, service SourceCanceller, logger *zap.Logger) *MarketplaceConsumer {
	return &MarketplaceConsumer{consumer: consumer, service: service, logger: logger}
}

// Run blocks consuming until the context is cancelled.
func (c *MarketplaceConsumer) Run(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handle)
}

func (c *MarketplaceConsumer) handle(ctx context.Context, msg kafkago.Message) error {
	ce, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Warn("unparseable marketplace event", zap.Error(err), zap.Int64("offset", msg.Offset))
		return nil
	}

	switch ce.Type {
	case TypeProposalWithdrawn:
		var data ProposalWithdrawnData
		if err := ce.ParseData(&data); err != nil {
			return err
		}
		return c.service.CancelBySource(ctx, escrow.SourceJobProposal, data.ProposalID, "proposal withdrawn")
	case TypeCampaignCancelled:
		var data CampaignCancelledData
		if err := ce.ParseData(&data); err != nil {
			return err
		}
		return c.service.CancelBySource(ctx, escrow.SourceCampaign, data.CampaignID, "campaign cancelled")
	default:
		return nil
	}
}
