package models

import "time"

// ApiKey authenticates a service calling the ops API. Only the hash is stored.
type ApiKey struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Prefix    string    `db:"prefix" json:"prefix"`
	KeyHash   string    `db:"key_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
