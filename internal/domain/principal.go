package domain

import "context"

// Seller roles. Only professional sellers may run standalone auctions.
const (
	RoleMember = "member"
	RolePro    = "pro"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Role   string
}

// Authenticated reports whether the principal carries a user identity.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// IsPro reports whether the principal is a professional seller.
func (p Principal) IsPro() bool {
	return p.Role == RolePro
}

type principalKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller stored in ctx, or the zero
// (unauthenticated) Principal.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
