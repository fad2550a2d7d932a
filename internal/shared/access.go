package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the caller's role inside the scorecard platform.
type Role string

const (
	RoleAdmin        Role = "ADMINISTRADOR"
	RoleConsultant   Role = "CONSULTOR"
	RoleManager      Role = "GESTOR"
	RoleCollaborator Role = "COLABORADOR"
	RoleReader       Role = "LEITURA"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleConsultant, RoleManager, RoleCollaborator, RoleReader:
		return true
	default:
		return false
	}
}

// Actor describes the authenticated caller of a use-case.
type Actor struct {
	ID        uuid.UUID
	Role      Role
	CompanyID *uuid.UUID
}

// SystemActor is used by scheduled callers that act on behalf of the platform.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Role: RoleAdmin}
}

// IsSystem reports whether the actor is the platform itself.
func (a Actor) IsSystem() bool {
	return a.ID == uuid.Nil && a.Role == RoleAdmin
}

// Ref returns the actor id for audit columns, nil for the system actor.
func (a Actor) Ref() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// HasRole reports whether the actor holds any of the provided roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// AssertTenantAccess lets administrators through and requires every other role
// to belong to the requested company.
func AssertTenantAccess(companyID uuid.UUID, actor Actor) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if actor.CompanyID == nil || *actor.CompanyID != companyID {
		return fmt.Errorf("%w: company %s", ErrAccessDenied, companyID)
	}
	return nil
}
