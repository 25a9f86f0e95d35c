package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account mirrors the identity provider's view of a user. Email and phone
// are stored normalized (lower-case e-mail, E.164 phone).
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID            string    `bun:"id,pk" json:"id"`
	Email         string    `bun:"email,nullzero" json:"email,omitempty"`
	Phone         string    `bun:"phone,nullzero" json:"phone,omitempty"`
	EmailVerified bool      `bun:"email_verified,notnull" json:"email_verified"`
	PhoneVerified bool      `bun:"phone_verified,notnull" json:"phone_verified"`
	FullName      string    `bun:"full_name,nullzero" json:"full_name,omitempty"`
	Active        bool      `bun:"active,notnull" json:"active"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// AccountVerifiedEvent is published by the identity provider when an
// account registers or confirms a contact identifier.
type AccountVerifiedEvent struct {
	AccountID     string    `json:"account_id" validate:"required"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	PhoneVerified bool      `json:"phone_verified"`
	FullName      string    `json:"full_name,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
