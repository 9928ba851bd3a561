package globals

import (
	"context"
)

// Context keys
type ContextKey string

const IdentityKey ContextKey = "identity"

type Role string

const (
	RoleStudent      Role = "student"
	RoleCanteenOwner Role = "canteen_owner"
	RoleAdmin        Role = "admin"
)

// Identity is the verified caller of a request, as supplied by the token issuer.
type Identity struct {
	UserID    string `json:"userId"`
	Role      Role   `json:"role"`
	CanteenID string `json:"canteenId,omitempty"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFrom returns the identity stored by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// Channel keys for real-time subscriptions.
func UserChannel(userID string) string       { return "user:" + userID }
func CanteenChannel(canteenID string) string { return "canteen:" + canteenID }
