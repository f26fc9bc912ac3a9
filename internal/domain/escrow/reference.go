package escrow

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Reference prefixes cluster provider references by operation class in audit
// scans.
const (
	RefPrefixPayment           = "PAY"
	RefPrefixTransfer          = "TRF"
	RefPrefixMilestoneTransfer = "MTRF"
)

const refRandLen = 6

var base36 = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

// NewPaymentReference generates a collision-resistant payment reference for
// the escrow: PAY-<escrowId>-<unix-millis>-<6-char-base36>.
func NewPaymentReference(escrowID uuid.UUID) string {
	return newReference(RefPrefixPayment, escrowID)
}

// NewTransferReference generates a transfer reference for a full release.
func NewTransferReference(escrowID uuid.UUID) string {
	return newReference(RefPrefixTransfer, escrowID)
}

// NewMilestoneTransferReference generates a transfer reference for a
// milestone release, anchored to the milestone id.
func NewMilestoneTransferReference(milestoneID uuid.UUID) string {
	return newReference(RefPrefixMilestoneTransfer, milestoneID)
}

func newReference(prefix string, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s-%d-%s", prefix, id, time.Now().UnixMilli(), randBase36(refRandLen))
}

func randBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken;
			// a degenerate tail is still anchored by the id and timestamp.
			out[i] = base36[0]
			continue
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}
