// Package model defines the core data types shared across the housecall booking system.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus represents the lifecycle status of a service request.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RequestStatus string

const (
	// StatusRequested is the initial status of every request. Incoming
	// payloads may also spell it "pending"; that alias is normalized at
	// parse time and never stored.
	StatusRequested RequestStatus = "requested"
	// StatusInProgress indicates the assigned professional has started work.
	StatusInProgress RequestStatus = "in_progress"
	// StatusCompleted is a terminal status set by the professional.
	StatusCompleted RequestStatus = "completed"
	// StatusCancelled is a terminal status set by the customer.
	StatusCancelled RequestStatus = "cancelled"
)

// statusAliasPending is accepted on input as a synonym for StatusRequested.
const statusAliasPending = "pending"

// transitions is the full status graph. Terminal statuses have no outgoing
// edges and therefore absorb every further transition attempt.
var transitions = map[RequestStatus][]RequestStatus{
	StatusRequested:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// Valid returns true if the RequestStatus is one of the canonical statuses.
func (s RequestStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal returns true for statuses with no outgoing transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the graph permits moving from s to next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler, normalizing the
// legacy "pending" alias to StatusRequested.
func (s *RequestStatus) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	if v == statusAliasPending {
		*s = StatusRequested
		return nil
	}
	rs := RequestStatus(v)
	if !rs.Valid() {
		return fmt.Errorf("invalid request status: %q", v)
	}
	*s = rs
	return nil
}

// ParseRequestStatus normalizes a raw status string, mapping the "pending"
// alias onto StatusRequested.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	var s RequestStatus
	if err := s.UnmarshalText([]byte(raw)); err != nil {
		return "", err
	}
	return s, nil
}

// Role identifies which side of a booking an actor is on.
type Role string

const (
	// RoleCustomer books services and may cancel or review them.
	RoleCustomer Role = "customer"
	// RoleProfessional fulfils requests and may start or complete them.
	RoleProfessional Role = "professional"
)

// Valid returns true if the Role is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleProfessional
}

// Actor is the explicit authorization context passed into every lifecycle
// operation. It replaces any reliance on ambient session state.
type Actor struct {
	ID   string
	Role Role
}

// ServiceRequest is a single customer-to-professional booking with a
// lifecycle status. Customer, professional and service references are
// fixed at creation; only status, completed_at and review ever change.
type ServiceRequest struct {
	ID             string        `json:"id"                     db:"id"`
	ServiceID      string        `json:"service_id"             db:"service_id"`
	ServiceName    string        `json:"service_name"           db:"service_name"`
	CustomerID     string        `json:"customer_id"            db:"customer_id"`
	ProfessionalID string        `json:"professional_id"        db:"professional_id"`
	Status         RequestStatus `json:"status"                 db:"status"`
	Review         *string       `json:"review,omitempty"       db:"review"`
	CreatedAt      time.Time     `json:"created_at"             db:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// Open reports whether the request still needs professional attention.
func (r *ServiceRequest) Open() bool {
	return !r.Status.Terminal()
}

// PartyOf reports whether the actor is the customer or professional on
// this request.
func (r *ServiceRequest) PartyOf(actor Actor) bool {
	return actor.ID == r.CustomerID || actor.ID == r.ProfessionalID
}
