// Package policy decides whether a user may change a resource.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collab-revisions/internal/domain"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Role    string
	Reason  string
}

type Authorizer interface {
	CanSubmitOperation(ctx context.Context, resource domain.Resource, userID uint64) (Decision, error)
	CanRead(ctx context.Context, resource domain.Resource, userID uint64) (Decision, error)
}

// RoleSource reads a user's role on a document, "none" when there is none.
type RoleSource interface {
	GetUserRole(ctx context.Context, docID, userID uint64) (string, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const roleCacheTTL = time.Minute

// RoleAuthorizer grants edits to owners and editors of the document a
// resource belongs to. Panes inherit the roles of their parent document.
type RoleAuthorizer struct {
	roles  RoleSource
	cache  Cache
	logger zerolog.Logger
}

func NewRoleAuthorizer(roles RoleSource, cache Cache, logger zerolog.Logger) *RoleAuthorizer {
	return &RoleAuthorizer{roles: roles, cache: cache, logger: logger}
}

func (a *RoleAuthorizer) CanSubmitOperation(ctx context.Context, resource domain.Resource, userID uint64) (Decision, error) {
	role, err := a.Role(ctx, resource.DocumentID, userID)
	if err != nil {
		return Decision{}, err
	}
	switch role {
	case domain.RoleOwner, domain.RoleEditor:
		return Decision{Allowed: true, Role: role}, nil
	case domain.RoleViewer:
		return Decision{Role: role, Reason: "viewers can't edit"}, nil
	default:
		return Decision{Role: domain.RoleNone, Reason: "not a collaborator"}, nil
	}
}

// CanRead allows every collaborator, viewers included.
func (a *RoleAuthorizer) CanRead(ctx context.Context, resource domain.Resource, userID uint64) (Decision, error) {
	role, err := a.Role(ctx, resource.DocumentID, userID)
	if err != nil {
		return Decision{}, err
	}
	if role == domain.RoleNone || role == "" {
		return Decision{Role: domain.RoleNone, Reason: "not a collaborator"}, nil
	}
	return Decision{Allowed: true, Role: role}, nil
}

// Role returns the user's role on the document, going through the cache.
func (a *RoleAuthorizer) Role(ctx context.Context, docID, userID uint64) (string, error) {
	key := roleKey(docID, userID)
	var role string
	if found, err := a.cache.Get(ctx, key, &role); err == nil && found {
		return role, nil
	} else if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("role cache read failed")
	}

	role, err := a.roles.GetUserRole(ctx, docID, userID)
	if err != nil {
		return "", err
	}
	if err := a.cache.Set(ctx, key, role, roleCacheTTL); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("role cache write failed")
	}
	return role, nil
}

// Forget drops the cached role after a collaborator change.
func (a *RoleAuthorizer) Forget(ctx context.Context, docID, userID uint64) {
	if err := a.cache.Delete(ctx, roleKey(docID, userID)); err != nil {
		a.logger.Warn().Err(err).Msg("role cache delete failed")
	}
}

func roleKey(docID, userID uint64) string {
	return fmt.Sprintf("role:doc:%d:user:%d", docID, userID)
}
