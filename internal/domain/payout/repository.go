package payout

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists seller payout accounts.
type Repository interface {
	// ActiveByUser returns the user's single active account, or NotFound.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (*Account, error)

	// Save inserts a new account row.
	Save(ctx context.Context, a *Account) error

	// Update persists mutations (deactivation).
	Update(ctx context.Context, a *Account) error
}
