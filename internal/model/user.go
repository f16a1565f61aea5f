package model

// User is owned by the account module; only the fields needed for
// notification fallback are read here.
type User struct {
	ID    int64  `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}
