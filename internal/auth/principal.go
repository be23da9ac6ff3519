package auth

import (
	"github.com/google/uuid"

	"storefront/internal/apperr"
)

// Kind distinguishes storefront customers from back-office staff.
type Kind string

const (
	KindCustomer Kind = "customer"
	KindAdmin    Kind = "admin"
)

// Principal is an identity already resolved by the upstream identity provider.
type Principal struct {
	ID         uuid.UUID
	Kind       Kind
	SuperAdmin bool
}

func Customer(id uuid.UUID) *Principal {
	return &Principal{ID: id, Kind: KindCustomer}
}

func Admin(id uuid.UUID, super bool) *Principal {
	return &Principal{ID: id, Kind: KindAdmin, SuperAdmin: super}
}

func (p *Principal) authenticated() bool {
	return p != nil && p.ID != uuid.Nil
}

func (p *Principal) IsAdmin() bool {
	return p.authenticated() && p.Kind == KindAdmin
}

// RequireCustomer returns the customer id or an Unauthenticated/Unauthorized error.
func RequireCustomer(p *Principal) (uuid.UUID, error) {
	if !p.authenticated() {
		return uuid.Nil, apperr.New(apperr.CodeUnauthenticated, "customer identity missing")
	}
	if p.Kind != KindCustomer {
		return uuid.Nil, apperr.New(apperr.CodeUnauthorized, "operation restricted to customers")
	}
	return p.ID, nil
}

func RequireAdmin(p *Principal) error {
	if !p.authenticated() {
		return apperr.New(apperr.CodeUnauthenticated, "admin identity missing")
	}
	if p.Kind != KindAdmin {
		return apperr.New(apperr.CodeUnauthorized, "admin capability required")
	}
	return nil
}

func RequireSuperAdmin(p *Principal) error {
	if err := RequireAdmin(p); err != nil {
		return err
	}
	if !p.SuperAdmin {
		return apperr.New(apperr.CodeUnauthorized, "super admin capability required")
	}
	return nil
}

// RequireAny accepts any authenticated principal.
func RequireAny(p *Principal) error {
	if !p.authenticated() {
		return apperr.New(apperr.CodeUnauthenticated, "identity missing")
	}
	return nil
}
