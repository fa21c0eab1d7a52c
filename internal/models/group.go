package models

import "time"

// Group is a course group with a fixed student capacity.
type Group struct {
	ID        int64     `db:"id" json:"id"`
	No        string    `db:"no" json:"no"`
	Limit     int       `db:"limit" json:"limit"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
