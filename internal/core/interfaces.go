package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/housecall/housecall/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// CreateRequestParams groups parameters for RequestRepository.Create.
type CreateRequestParams struct {
	ServiceID      string
	ServiceName    string
	CustomerID     string
	ProfessionalID string
}

// UpdateStatusParams groups parameters for the compare-and-swap status update.
// The update applies only when the row still holds From, so exactly one of
// several concurrent writers wins.
type UpdateStatusParams struct {
	ID          string
	From        model.RequestStatus
	To          model.RequestStatus
	CompletedAt *time.Time
}

// RequestRepository defines the interface for booking request data operations.
type RequestRepository interface {
	Create(ctx context.Context, p CreateRequestParams) (*model.ServiceRequest, error)
	GetByID(ctx context.Context, id string) (*model.ServiceRequest, error)
	// UpdateStatus returns (false, nil) when the row no longer holds p.From.
	UpdateStatus(ctx context.Context, p UpdateStatusParams) (bool, error)
	// SetReview returns (false, nil) unless the request is completed.
	SetReview(ctx context.Context, id, review string) (bool, error)
	ListCompleted(ctx context.Context) ([]*model.ServiceRequest, error)
	// ListClosed returns completed and cancelled requests.
	ListClosed(ctx context.Context) ([]*model.ServiceRequest, error)
	ListOpenByProfessional(ctx context.Context, professionalID string) ([]*model.ServiceRequest, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*model.ServiceRequest, error)
}

// JobRepository defines the interface for job queue data operations.
type JobRepository interface {
	Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ReserveNext claims the oldest pending job, or model.ErrNoJobsAvailable.
	ReserveNext(ctx context.Context) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	Succeed(ctx context.Context, id, result string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	CancelPending(ctx context.Context, id string) (bool, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// JobRepositoryTx defines optional transactional job submission support.
type JobRepositoryTx interface {
	SubmitInTx(ctx context.Context, tx *sql.Tx, req *model.SubmitJobRequest) (*model.Job, error)
}

// UserRepository defines the interface for the read-only user directory.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// PickProfessional returns the least-loaded active professional for a
	// service type, or (nil, nil) when none is available.
	PickProfessional(ctx context.Context, serviceName string) (*model.User, error)
	ListActiveProfessionals(ctx context.Context) ([]*model.User, error)
	ListCustomers(ctx context.Context) ([]*model.User, error)
}

// ServiceRepository defines the interface for catalog data operations.
type ServiceRepository interface {
	Create(ctx context.Context, req *model.CreateServiceRequest) (*model.Service, error)
	GetByID(ctx context.Context, id string) (*model.Service, error)
	List(ctx context.Context) ([]*model.Service, error)
	Update(ctx context.Context, id string, req *model.CreateServiceRequest) (*model.Service, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ScheduledTaskRepository defines the interface for calendar trigger data operations.
type ScheduledTaskRepository interface {
	FindDueTx(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]model.ScheduledTask, error)
	MarkFiredTx(ctx context.Context, tx *sql.Tx, task *model.ScheduledTask, firedAt time.Time) (bool, error)
	List(ctx context.Context) ([]model.ScheduledTask, error)
	// TryWithTaskLock runs fn inside a transaction holding an advisory lock
	// for taskName. Returns (false, nil) when another holder has the lock.
	TryWithTaskLock(ctx context.Context, taskName string, fn func(context.Context, *sql.Tx) error) (bool, error)
}

// CacheRepository defines the interface for byte-oriented cache operations.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}
