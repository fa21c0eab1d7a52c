package models

import "time"

// Student represents a learner registered in a group.
type Student struct {
	ID        int64     `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
	GroupID   int64     `db:"group_id" json:"group_id"`
	Photo     *string   `db:"photo" json:"photo,omitempty"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail joins the student with its group's display name.
type StudentDetail struct {
	Student
	GroupName string `db:"group_name" json:"group_name"`
}
