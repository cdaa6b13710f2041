// Package identity is the seam to the storefront's user storage. The chat
// core only ever asks two questions: who is this id, and is it an admin.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

// Directory resolves a user id to display identity. Implementations return
// repository.ErrNotFound for unknown ids; callers degrade to the raw id.
type Directory interface {
	Lookup(ctx context.Context, id string) (*model.UserPublic, error)
}

// Authorizer answers the flat-role admin check gating dashboard operations.
type Authorizer interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// PGProvider backs Directory and Authorizer with the users table.
type PGProvider struct {
	users *repository.UserRepository
}

func NewPGProvider(users *repository.UserRepository) *PGProvider {
	return &PGProvider{users: users}
}

func (p *PGProvider) Lookup(ctx context.Context, id string) (*model.UserPublic, error) {
	u, err := p.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pub := u.ToPublic()
	return &pub, nil
}

func (p *PGProvider) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return p.users.IsAdmin(ctx, userID)
}

// LookupOrFallback resolves id via dir, degrading to a bare identity showing
// the raw id when the lookup fails for any reason.
func LookupOrFallback(ctx context.Context, dir Directory, id string) model.UserPublic {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	u, err := dir.Lookup(ctx, id)
	if err != nil || u == nil {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("identity lookup id=%s: %v", id, err)
		}
		return model.UserPublic{ID: id, DisplayName: id}
	}
	return *u
}
