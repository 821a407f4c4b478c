package auth

import (
	"time"

	"github.com/kinbay/kinbay/internal/domain"
)

// Account is a user row including its credential hash.
type Account struct {
	ID           int64
	Email        string
	Firstname    string
	Lastname     string
	Address      string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
}

// Public strips credentials.
func (a Account) Public() domain.User {
	return domain.User{
		ID:        a.ID,
		Email:     a.Email,
		Firstname: a.Firstname,
		Lastname:  a.Lastname,
		Address:   a.Address,
		Phone:     a.Phone,
		CreatedAt: a.CreatedAt,
	}
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email     string
	Firstname string
	Lastname  string
	Address   string
	Phone     string
	Password  string
}

// UpdateInput carries a partial profile update. Nil fields are left as is.
type UpdateInput struct {
	Email     *string
	Firstname *string
	Lastname  *string
	Address   *string
	Phone     *string
	Password  *string
}

// RefreshToken is a stored refresh token. Only the hash of the signed token
// is persisted.
type RefreshToken struct {
	ID         string
	UserID     int64
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
	CreatedAt  time.Time
}

// Revoked reports whether the token was revoked.
func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Session is returned by a successful login or refresh.
type Session struct {
	AccessToken      string      `json:"accessToken"`
	ExpiresAt        time.Time   `json:"expiresAt"`
	RefreshToken     string      `json:"refreshToken"`
	RefreshExpiresAt time.Time   `json:"refreshExpiresAt"`
	User             domain.User `json:"user"`
}
