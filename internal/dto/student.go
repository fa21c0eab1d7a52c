package dto

import (
	"io"
	"time"
)

// CreateStudentRequest is bound from multipart form data; birth_date uses YYYY-MM-DD.
type CreateStudentRequest struct {
	FullName  string    `json:"full_name" form:"full_name" validate:"required,max=100"`
	Email     string    `json:"email" form:"email" validate:"required,email,max=100"`
	BirthDate time.Time `json:"birth_date" form:"birth_date" time_format:"2006-01-02" time_utc:"1" validate:"required"`
	GroupID   int64     `json:"group_id" form:"group_id" validate:"required,gt=0"`
}

// UpdateStudentRequest replaces all scalar student fields.
type UpdateStudentRequest struct {
	FullName  string    `json:"full_name" form:"full_name" validate:"required,max=100"`
	Email     string    `json:"email" form:"email" validate:"required,email,max=100"`
	BirthDate time.Time `json:"birth_date" form:"birth_date" time_format:"2006-01-02" time_utc:"1" validate:"required"`
	GroupID   int64     `json:"group_id" form:"group_id" validate:"required,gt=0"`
}

// StudentResponse is the public student shape.
type StudentResponse struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	BirthDate time.Time `json:"birth_date"`
	GroupID   int64     `json:"group_id"`
	GroupName string    `json:"group_name"`
	PhotoURL  *string   `json:"photo_url"`
}

// FileUpload carries an optional uploaded file.
type FileUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// ExportFile is a rendered roster document.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
