package domain

import "time"

// User is the public view of an account. Credentials never leave the auth package.
type User struct {
	ID        int64     `json:"id,string"`
	Email     string    `json:"email"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
