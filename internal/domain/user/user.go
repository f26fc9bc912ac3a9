// Package user exposes the minimal read-only projection of platform users the
// escrow engine depends on. Profile CRUD lives elsewhere.
package user

import (
	"context"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
)

// User is the projection the engine needs: identity, contact, and class.
type User struct {
	ID          uuid.UUID
	Email       string
	AccountType auth.AccountType
	Role        auth.Role
}

// Directory looks up users by id.
type Directory interface {
	ByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FirstAdmin returns an admin user for operational notifications
	// (transfer failures). Returns NotFound when no admin exists.
	FirstAdmin(ctx context.Context) (*User, error)
}
