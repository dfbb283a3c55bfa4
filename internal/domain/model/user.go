package model

import "time"

// User is a registered account. Professionals carry a ServiceType naming
// the catalog service they offer; customers leave it empty. Credential
// storage and token issuance live outside this system.
type User struct {
	ID          string    `json:"id"                     db:"id"`
	Username    string    `json:"username"               db:"username"`
	Email       string    `json:"email"                  db:"email"`
	Role        Role      `json:"role"                   db:"role"`
	Active      bool      `json:"active"                 db:"active"`
	ServiceType string    `json:"service_type,omitempty" db:"service_type"`
	CreatedAt   time.Time `json:"created_at"             db:"created_at"`
}
