package model

import (
	"errors"
	"strings"
	"time"
)

// Service is a catalog entry describing a bookable home service. The
// catalog is read-mostly reference data; reads may be served from cache as
// long as every write invalidates that cache synchronously.
type Service struct {
	ID           string    `json:"id"                      db:"id"`
	Name         string    `json:"name"                    db:"name"`
	Price        float64   `json:"price"                   db:"price"`
	TimeRequired int       `json:"time_required,omitempty" db:"time_required"`
	Description  string    `json:"description,omitempty"   db:"description"`
	CreatedAt    time.Time `json:"created_at"              db:"created_at"`
}

// CreateServiceRequest carries the parameters for adding a catalog entry.
type CreateServiceRequest struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	TimeRequired int     `json:"time_required,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Validate checks the CreateServiceRequest fields.
func (r *CreateServiceRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("service name is required")
	}
	if r.Price < 0 {
		return errors.New("price must be non-negative")
	}
	if r.TimeRequired < 0 {
		return errors.New("time required must be non-negative")
	}
	return nil
}
