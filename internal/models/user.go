package models

import "time"

// User is a chat participant. Identity is established by the auth
// middleware; the store only keeps the directory record.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
