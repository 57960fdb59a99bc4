package domain

import (
	"time"
)

// Business is the tenant that owns a dialed phone number.
type Business struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number" gorm:"uniqueIndex"` // E.164
	Greeting    string    `json:"greeting"`
	Voice       string    `json:"voice"`
	Language    string    `json:"language"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Business) TableName() string {
	return "businesses"
}
