package models

// UserRole defines allowed roles in the system
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleDealer   UserRole = "dealer"
	RoleAdmin    UserRole = "admin"
	RoleUnset    UserRole = "unset"
)

// ParseRole maps a stored or requested role onto a known role. Empty means unset.
func ParseRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleCustomer, RoleDealer, RoleAdmin, RoleUnset:
		return UserRole(raw), true
	case "":
		return RoleUnset, true
	default:
		return "", false
	}
}

// User is keyed by its normalized phone. DealerID is set only for dealers.
type User struct {
	ID       ID       `json:"id"`
	Phone    Phone    `json:"phone"`
	Role     UserRole `json:"role"`
	DealerID *ID      `json:"dealerId"`
	Token    string   `json:"token,omitempty"`
	Name     string   `json:"name,omitempty"`
	Language string   `json:"language,omitempty"`
}

func (u *User) GetID() ID   { return u.ID }
func (u *User) SetID(id ID) { u.ID = id }

// EffectiveRole is the role used for authorization; unset users act as customers.
func (u User) EffectiveRole() UserRole {
	switch u.Role {
	case RoleAdmin, RoleDealer:
		return u.Role
	default:
		return RoleCustomer
	}
}

// Public strips the bearer token.
func (u User) Public() User {
	u.Token = ""
	return u
}
