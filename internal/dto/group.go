package dto

// CreateGroupRequest captures the payload for a new group.
type CreateGroupRequest struct {
	No    string `json:"no" form:"no" validate:"required,max=20"`
	Limit int    `json:"limit" form:"limit" validate:"required,gt=0"`
}

// UpdateGroupRequest replaces every editable group field.
type UpdateGroupRequest struct {
	No    string `json:"no" form:"no" validate:"required,max=20"`
	Limit int    `json:"limit" form:"limit" validate:"required,gt=0"`
}

// GroupResponse is the public group shape.
type GroupResponse struct {
	ID    int64  `json:"id"`
	No    string `json:"no"`
	Limit int    `json:"limit"`
}

// CreatedResponse returns the surrogate id of a new record.
type CreatedResponse struct {
	ID int64 `json:"id"`
}
