// Package workflowtest provides end-to-end workflow testing utilities for
// the housecall booking system.
package workflowtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/domain/model"
	"github.com/housecall/housecall/internal/service"
	"github.com/housecall/housecall/internal/testutil"
)

// Harness wires real repositories and services against a test database so
// tests can walk a booking from creation to a finished background job.
type Harness struct {
	t  testutil.TestingTB
	db *sql.DB

	RequestRepo core.RequestRepository
	JobRepo     core.JobRepository
	UserRepo    core.UserRepository
	ServiceRepo core.ServiceRepository
	TaskRepo    core.ScheduledTaskRepository

	Lifecycle *service.LifecycleService
	Jobs      *service.JobService
	Export    *service.ExportService
}

// HarnessOptions configures the workflow harness.
type HarnessOptions struct {
	// ExportDir overrides where CSV exports land. Defaults to a path under
	// the OS temp dir chosen by the calling test.
	ExportDir string
}

// NewHarness builds a harness on the given test database. The database is
// expected to be migrated already (testutil.SetupAutoDB does this).
func NewHarness(t testutil.TestingTB, db *sql.DB, opts HarnessOptions) *Harness {
	t.Helper()

	repoCfg := data.RepoConfig{}
	requestRepo := data.NewRequestRepo(db, repoCfg)
	jobRepo := data.NewJobRepo(db, repoCfg)
	userRepo := data.NewUserRepo(db)
	serviceRepo := data.NewServiceRepo(db, repoCfg)
	taskRepo := data.NewScheduledTaskRepo(db, repoCfg)

	lifecycle := service.NewLifecycleService(service.LifecycleServiceOptions{
		Requests: requestRepo,
		Users:    userRepo,
	})
	jobs := service.NewJobService(service.JobServiceOptions{
		Jobs: jobRepo,
	})
	export := service.NewExportService(service.ExportServiceOptions{
		Requests: requestRepo,
		Users:    userRepo,
		Dir:      opts.ExportDir,
	})

	return &Harness{
		t:           t,
		db:          db,
		RequestRepo: requestRepo,
		JobRepo:     jobRepo,
		UserRepo:    userRepo,
		ServiceRepo: serviceRepo,
		TaskRepo:    taskRepo,
		Lifecycle:   lifecycle,
		Jobs:        jobs,
		Export:      export,
	}
}

// Booking groups the seeded parties of one service request.
type Booking struct {
	CustomerID     string
	ProfessionalID string
	ServiceID      string
	RequestID      string
}

// SeedBooking seeds a customer, a professional and a catalog service, then
// books a request through the lifecycle service so the booking exercises
// the real professional assignment path.
func (h *Harness) SeedBooking(ctx context.Context, serviceName string) Booking {
	h.t.Helper()

	customerID := testutil.SeedCustomer(h.t, h.db)
	professionalID := testutil.SeedProfessional(h.t, h.db, serviceName)
	serviceID := testutil.SeedService(h.t, h.db, testutil.ServiceSeed{Name: serviceName})

	req, err := h.Lifecycle.Book(ctx, service.BookParams{
		Actor:       model.Actor{ID: customerID, Role: model.RoleCustomer},
		ServiceID:   serviceID,
		ServiceName: serviceName,
	})
	if err != nil {
		h.t.Fatalf("Failed to book request: %v", err)
	}
	if req.ProfessionalID != professionalID {
		h.t.Fatalf("Booking assigned professional %s, want the seeded %s", req.ProfessionalID, professionalID)
	}

	return Booking{
		CustomerID:     customerID,
		ProfessionalID: req.ProfessionalID,
		ServiceID:      serviceID,
		RequestID:      req.ID,
	}
}

// Transition applies one status transition as the given actor.
func (h *Harness) Transition(ctx context.Context, actor model.Actor, requestID string, target model.RequestStatus) *model.ServiceRequest {
	h.t.Helper()

	req, err := h.Lifecycle.ApplyTransition(ctx, service.TransitionParams{
		Actor:     actor,
		RequestID: requestID,
		Target:    target,
	})
	if err != nil {
		h.t.Fatalf("Failed to transition request %s to %s: %v", requestID, target, err)
	}
	return req
}

// CompleteBooking walks a freshly booked request through start and
// completion as the assigned professional.
func (h *Harness) CompleteBooking(ctx context.Context, b Booking) *model.ServiceRequest {
	h.t.Helper()

	pro := model.Actor{ID: b.ProfessionalID, Role: model.RoleProfessional}
	h.Transition(ctx, pro, b.RequestID, model.StatusInProgress)
	return h.Transition(ctx, pro, b.RequestID, model.StatusCompleted)
}

// RunNextJob reserves the next pending job and executes it with the given
// handler, recording the terminal status the way the worker would.
func (h *Harness) RunNextJob(ctx context.Context, handler func(context.Context, *model.Job) (string, error)) *model.Job {
	h.t.Helper()

	job, err := h.JobRepo.ReserveNext(ctx)
	if err != nil {
		h.t.Fatalf("Failed to reserve job: %v", err)
	}

	result, runErr := handler(ctx, job)
	if runErr != nil {
		if _, failErr := h.JobRepo.Fail(ctx, job.ID, runErr.Error()); failErr != nil {
			h.t.Fatalf("Failed to record job failure: %v", failErr)
		}
	} else if _, okErr := h.JobRepo.Succeed(ctx, job.ID, result); okErr != nil {
		h.t.Fatalf("Failed to record job success: %v", okErr)
	}

	refreshed, err := h.JobRepo.GetByID(ctx, job.ID)
	if err != nil {
		h.t.Fatalf("Failed to reload job %s: %v", job.ID, err)
	}
	return refreshed
}

// WaitForJobStatus polls a job until it reaches the wanted status or the
// timeout elapses.
func (h *Harness) WaitForJobStatus(ctx context.Context, jobID string, want model.JobStatus, timeout time.Duration) *model.Job {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := h.JobRepo.GetByID(ctx, jobID)
		if err != nil && !errors.Is(err, data.ErrJobNotFound) {
			h.t.Fatalf("Failed to poll job %s: %v", jobID, err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.t.Fatalf("Job %s never reached status %s within %v", jobID, want, timeout)
	return nil
}

// CountRequests returns the number of service requests with the status.
func (h *Harness) CountRequests(ctx context.Context, status model.RequestStatus) int {
	h.t.Helper()

	var n int
	err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM service_requests WHERE status = $1", string(status),
	).Scan(&n)
	if err != nil {
		h.t.Fatalf("Failed to count requests: %v", err)
	}
	return n
}

// String renders the booking for test logs.
func (b Booking) String() string {
	return fmt.Sprintf("booking{request=%s customer=%s professional=%s}",
		b.RequestID, b.CustomerID, b.ProfessionalID)
}
