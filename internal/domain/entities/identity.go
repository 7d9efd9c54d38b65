package entities

import (
	"fmt"
	"time"
)

// Role is the immutable role claim attached to an identity
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleClinician
}

// Identity represents a registered account
type Identity struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"displayName" db:"display_name"`
	Email       string    `json:"email" db:"email"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Principal is an authenticated identity tagged by role.
// The only implementations are *Patient and *Clinician.
type Principal interface {
	Profile() *Identity
	isPrincipal()
}

// Patient is a principal with role patient
type Patient struct {
	Identity
}

// Clinician is a principal with role clinician
type Clinician struct {
	Identity
}

func (p *Patient) Profile() *Identity   { return &p.Identity }
func (c *Clinician) Profile() *Identity { return &c.Identity }
func (*Patient) isPrincipal()           {}
func (*Clinician) isPrincipal()         {}

// AsPrincipal wraps an identity in the variant matching its role
func AsPrincipal(id *Identity) (Principal, error) {
	if id == nil {
		return nil, fmt.Errorf("nil identity")
	}
	switch id.Role {
	case RolePatient:
		return &Patient{Identity: *id}, nil
	case RoleClinician:
		return &Clinician{Identity: *id}, nil
	default:
		return nil, fmt.Errorf("identity %s has unknown role %q", id.ID, id.Role)
	}
}

// IsClinician reports whether p is a clinician principal
func IsClinician(p Principal) bool {
	_, ok := p.(*Clinician)
	return ok
}

// PatientDirectoryEntry is the read-only projection of a patient identity
type PatientDirectoryEntry struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DirectoryEntry projects a patient identity into the directory shape
func (i *Identity) DirectoryEntry() PatientDirectoryEntry {
	return PatientDirectoryEntry{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		Email:       i.Email,
		CreatedAt:   i.CreatedAt,
	}
}
