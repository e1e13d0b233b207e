// Package directory defines the user directory collaborator. The commerce
// core consults it to resolve user profiles and admin privileges; it never
// manages accounts itself.
package directory

import "context"

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Profile is the directory's view of a user account.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Directory resolves user profiles.
type Directory interface {
	// GetProfile returns the profile for the given user ID, or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}
