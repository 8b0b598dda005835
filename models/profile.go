package models

import "time"

// Profile holds the contact details of a portal user.
type Profile struct {
	UserID      string    `gorm:"type:varchar(128);primaryKey" json:"user_id"`
	FullName    string    `gorm:"type:varchar(255)" json:"full_name"`
	Phone       string    `gorm:"type:varchar(32)" json:"phone"`
	Nationality string    `gorm:"type:varchar(64)" json:"nationality"`
	CompanyName string    `gorm:"type:varchar(255)" json:"company_name"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpdateProfileRequest is the payload accepted by PUT /profile.
type UpdateProfileRequest struct {
	FullName    string `json:"full_name" validate:"required,min=2,max=255"`
	Phone       string `json:"phone" validate:"omitempty,e164"`
	Nationality string `json:"nationality" validate:"omitempty,max=64"`
	CompanyName string `json:"company_name" validate:"omitempty,max=255"`
}
