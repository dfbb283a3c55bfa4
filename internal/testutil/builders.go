// Package testutil provides testing utilities and helpers for the housecall booking system.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/housecall/housecall/internal/domain/model"
)

// SubmitJobBuilder provides a fluent interface for building SubmitJobRequest objects for testing.
type SubmitJobBuilder struct {
	req *model.SubmitJobRequest
}

// NewSubmitJob creates a new SubmitJobBuilder with sensible defaults.
func NewSubmitJob() *SubmitJobBuilder {
	return &SubmitJobBuilder{
		req: &model.SubmitJobRequest{
			Kind: model.JobKindExportCSV,
			Args: json.RawMessage(`{}`),
		},
	}
}

// WithKind sets the job kind.
func (b *SubmitJobBuilder) WithKind(kind model.JobKind) *SubmitJobBuilder {
	b.req.Kind = kind
	return b
}

// WithArgs sets the job args.
func (b *SubmitJobBuilder) WithArgs(args json.RawMessage) *SubmitJobBuilder {
	b.req.Args = args
	return b
}

// WithArgsString sets the job args from a string.
func (b *SubmitJobBuilder) WithArgsString(args string) *SubmitJobBuilder {
	b.req.Args = json.RawMessage(args)
	return b
}

// Build returns the constructed SubmitJobRequest.
func (b *SubmitJobBuilder) Build() *model.SubmitJobRequest {
	return b.req
}

// UserSeed describes a user row to insert for a test.
type UserSeed struct {
	ID          string
	Username    string
	Email       string
	Role        model.Role
	Active      bool
	ServiceType string
}

// SeedUser inserts a user row and returns its id. Zero-value fields get
// usable defaults so most tests only set what they assert on.
func SeedUser(t TestingTB, db *sql.DB, seed UserSeed) string {
	t.Helper()

	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	if seed.Username == "" {
		seed.Username = "user_" + seed.ID[:8]
	}
	if seed.Email == "" {
		seed.Email = fmt.Sprintf("%s@example.com", seed.Username)
	}
	if seed.Role == "" {
		seed.Role = model.RoleCustomer
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, role, active, service_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		seed.ID, seed.Username, seed.Email, string(seed.Role), seed.Active, seed.ServiceType,
	)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return seed.ID
}

// SeedCustomer inserts an active customer and returns its id.
func SeedCustomer(t TestingTB, db *sql.DB) string {
	t.Helper()
	return SeedUser(t, db, UserSeed{Role: model.RoleCustomer, Active: true})
}

// SeedProfessional inserts an active professional offering the given
// service type and returns its id.
func SeedProfessional(t TestingTB, db *sql.DB, serviceType string) string {
	t.Helper()
	return SeedUser(t, db, UserSeed{
		Role:        model.RoleProfessional,
		Active:      true,
		ServiceType: serviceType,
	})
}

// ServiceSeed describes a catalog service row to insert for a test.
type ServiceSeed struct {
	ID           string
	Name         string
	Price        float64
	TimeRequired int
	Description  string
}

// SeedService inserts a catalog service row and returns its id.
func SeedService(t TestingTB, db *sql.DB, seed ServiceSeed) string {
	t.Helper()

	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	if seed.Name == "" {
		seed.Name = "service_" + seed.ID[:8]
	}
	if seed.Price == 0 {
		seed.Price = 49.99
	}
	if seed.TimeRequired == 0 {
		seed.TimeRequired = 60
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, `
		INSERT INTO services (id, name, price, time_required, description)
		VALUES ($1, $2, $3, $4, $5)`,
		seed.ID, seed.Name, seed.Price, seed.TimeRequired, seed.Description,
	)
	if err != nil {
		t.Fatalf("Failed to seed service: %v", err)
	}
	return seed.ID
}

// RequestSeed describes a service request row to insert for a test.
type RequestSeed struct {
	ID             string
	ServiceID      string
	ServiceName    string
	CustomerID     string
	ProfessionalID string
	Status         model.RequestStatus
	Review         *string
	CompletedAt    *time.Time
}

// SeedRequest inserts a service request row and returns its id. ServiceID,
// CustomerID and ProfessionalID must reference rows seeded beforehand.
func SeedRequest(t TestingTB, db *sql.DB, seed RequestSeed) string {
	t.Helper()

	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	if seed.ServiceName == "" {
		seed.ServiceName = "plumbing"
	}
	if seed.Status == "" {
		seed.Status = model.StatusRequested
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, `
		INSERT INTO service_requests (id, service_id, service_name, customer_id, professional_id, status, review, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		seed.ID, seed.ServiceID, seed.ServiceName, seed.CustomerID, nullIfEmpty(seed.ProfessionalID),
		string(seed.Status), seed.Review, seed.CompletedAt,
	)
	if err != nil {
		t.Fatalf("Failed to seed service request: %v", err)
	}
	return seed.ID
}

// nullIfEmpty maps "" to NULL for nullable uuid columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
