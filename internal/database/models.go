package database

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one address-book contact.
type Entry struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Birthday     string    `json:"birthday"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	ZipCode      string    `json:"zip_code"`
	Country      string    `json:"country"`
	Email        string    `json:"email"`
	HomePhone    string    `json:"home_phone"`
	CellPhone    string    `json:"cell_phone"`
	PictureURL   *string   `json:"picture_url"`
	CreatedBy    string    `json:"created_by" gorm:"<-:create"`
	CreationTime time.Time `json:"creation_time" gorm:"<-:create"`
	UpdatedBy    string    `json:"updated_by"`
	UpdateTime   time.Time `json:"update_time"`
}

func (e *Entry) TableName() string {
	return "entry"
}

// User represents an account that can sign in to the address book
type User struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	IsActive     bool       `json:"is_active"`
	DateJoined   time.Time  `json:"date_joined"`
	LastLogin    *time.Time `json:"-"`
}

func (u *User) TableName() string {
	return "app_user"
}
