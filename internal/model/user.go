package model

import "time"

// Role is the authorization level carried in access tokens.  The set is
// closed: anything else read from storage or a token is treated as guest by
// the role middleware.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleTester  Role = "tester"
	RoleGuest   Role = "guest"
)

// DefaultRole is assigned to every self-registered account.
const DefaultRole = RoleTester

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleTester, RoleGuest:
		return true
	}
	return false
}

// User represents an application user record as stored in the `users`
// table.  PasswordHash never leaves the service layer; handlers render
// Public() instead.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique, trimmed, lower-cased address.
//	PasswordHash – bcrypt hash.
//	FullName     – display name.
//	Role         – admin, manager, tester or guest.
//	IsActive     – disabled accounts cannot sign in or refresh.
//	LastLoginAt  – set on every successful sign-in (nil until then).
//	CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64     // users.id
	Email        string     // users.email
	PasswordHash string     // users.password_hash
	FullName     string     // users.full_name
	Role         Role       // users.role
	IsActive     bool       // users.is_active
	LastLoginAt  *time.Time // users.last_login_at (nullable)
	CreatedAt    time.Time  // users.created_at
}

// PublicUser is the subset of User that may be serialized to clients.
type PublicUser struct {
	ID          uint64     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"fullName"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Public strips the password hash.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Role:        u.Role,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// RefreshToken models an entry in the `refresh_tokens` table.  The row
// holds the signed token itself; its existence is what keeps a refresh
// grant alive, and deleting it is the only way a grant ends.
//
// Fields:
//
//	ID        – primary key identifier.
//	UserID    – owner of the token.
//	Token     – the signed refresh JWT, unique.
//	ExpiresAt – expiration timestamp of the token.
//	CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	UserID    uint64    // refresh_tokens.user_id
	Token     string    // refresh_tokens.token
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}

// Expired reports whether the row is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
