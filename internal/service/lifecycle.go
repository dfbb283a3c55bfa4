// Package service provides business logic services for the housecall booking system.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/domain/model"
)

// LifecycleService owns the booking request lifecycle: creation with
// professional assignment, status transitions and reviews. Every operation
// takes an explicit Actor; there is no ambient caller identity.
type LifecycleService struct {
	requests     core.RequestRepository
	users        core.UserRepository
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// LifecycleServiceOptions holds the dependencies for creating a LifecycleService.
type LifecycleServiceOptions struct {
	Requests     core.RequestRepository
	Users        core.UserRepository
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewLifecycleService creates a new LifecycleService with the given dependencies.
func NewLifecycleService(opts LifecycleServiceOptions) *LifecycleService {
	if opts.Requests == nil {
		panic("RequestRepository is required")
	}
	if opts.Users == nil {
		panic("UserRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	return &LifecycleService{
		requests:     opts.Requests,
		users:        opts.Users,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}
}

// BookParams groups parameters for Book.
type BookParams struct {
	Actor       model.Actor
	ServiceID   string
	ServiceName string
}

// Book creates a new request for the actor, assigning the least-loaded
// active professional for the service type. Ties break on lowest id, so
// assignment is deterministic for a given directory state.
func (s *LifecycleService) Book(ctx context.Context, p BookParams) (*model.ServiceRequest, error) {
	if p.Actor.Role != model.RoleCustomer {
		return nil, apperrors.Forbidden("only customers can book services")
	}
	if p.ServiceID == "" || p.ServiceName == "" {
		return nil, apperrors.Validation("service id and name are required")
	}

	pro, err := s.users.PickProfessional(ctx, p.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("pick professional: %w", err)
	}
	if pro == nil {
		return nil, apperrors.NoProfessional(
			fmt.Sprintf("no active professional available for %q", p.ServiceName))
	}

	req, err := s.requests.Create(ctx, core.CreateRequestParams{
		ServiceID:      p.ServiceID,
		ServiceName:    p.ServiceName,
		CustomerID:     p.Actor.ID,
		ProfessionalID: pro.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "request booked",
			"id", req.ID, "service", req.ServiceName, "professional_id", pro.ID)
	}
	return req, nil
}

// TransitionParams groups parameters for ApplyTransition.
type TransitionParams struct {
	Actor     model.Actor
	RequestID string
	Target    model.RequestStatus
}

// ApplyTransition moves a request to the target status on behalf of the
// actor. The write is a compare-and-swap on the loaded status, so of two
// racing transitions exactly one applies; the loser either sees its own
// target already in place (treated as a no-op) or gets an invalid
// transition error against the fresh status.
func (s *LifecycleService) ApplyTransition(ctx context.Context, p TransitionParams) (*model.ServiceRequest, error) {
	if !p.Target.Valid() {
		return nil, apperrors.Validationf("invalid target status: %q", p.Target)
	}

	req, err := s.loadRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}

	if err := authorizeTransition(req, p.Actor, p.Target); err != nil {
		return nil, err
	}
	if req.Status == p.Target {
		// Repeating an already-applied transition is not an error.
		return req, nil
	}
	if !req.Status.CanTransition(p.Target) {
		return nil, apperrors.InvalidTransitionf(
			"cannot transition request %s from %s to %s", req.ID, req.Status, p.Target)
	}

	var completedAt *time.Time
	if p.Target.Terminal() {
		// Both terminal statuses close the request at the same moment.
		now := s.timeProvider.Now().UTC()
		completedAt = &now
	}

	applied, err := s.requests.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:          req.ID,
		From:        req.Status,
		To:          p.Target,
		CompletedAt: completedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}
	if !applied {
		return s.resolveLostRace(ctx, p)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "request transitioned",
			"id", req.ID, "from", req.Status, "to", p.Target, "actor_id", p.Actor.ID)
	}
	return s.loadRequest(ctx, p.RequestID)
}

// resolveLostRace re-reads a request after a compare-and-swap miss and
// decides whether the caller's transition had already happened.
func (s *LifecycleService) resolveLostRace(ctx context.Context, p TransitionParams) (*model.ServiceRequest, error) {
	req, err := s.loadRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status == p.Target {
		return req, nil
	}
	return nil, apperrors.InvalidTransitionf(
		"cannot transition request %s from %s to %s", req.ID, req.Status, p.Target)
}

// ReviewParams groups parameters for AttachReview.
type ReviewParams struct {
	Actor     model.Actor
	RequestID string
	Review    string
}

// AttachReview records the customer's review on a completed request.
// Reviews are amendable; a repeat call overwrites the stored text.
func (s *LifecycleService) AttachReview(ctx context.Context, p ReviewParams) (*model.ServiceRequest, error) {
	if p.Review == "" {
		return nil, apperrors.Validation("review text is required")
	}

	req, err := s.loadRequest(ctx, p.RequestID)
	if err != nil {
		return nil, err
	}
	if p.Actor.Role != model.RoleCustomer || p.Actor.ID != req.CustomerID {
		return nil, apperrors.Forbidden("only the booking customer can review a request")
	}
	if req.Status != model.StatusCompleted {
		return nil, apperrors.InvalidState(fmt.Sprintf(
			"request %s is %s; reviews attach to completed requests only", req.ID, req.Status))
	}

	applied, err := s.requests.SetReview(ctx, req.ID, p.Review)
	if err != nil {
		return nil, fmt.Errorf("set review: %w", err)
	}
	if !applied {
		// Completed is terminal, so losing this guard means the row
		// disappeared between the read and the write.
		return nil, apperrors.StaleState(
			fmt.Sprintf("request %s changed while attaching review", req.ID))
	}
	return s.loadRequest(ctx, p.RequestID)
}

// GetRequest returns a request visible to the actor. Only the two parties
// on the booking may read it.
func (s *LifecycleService) GetRequest(ctx context.Context, actor model.Actor, id string) (*model.ServiceRequest, error) {
	req, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.PartyOf(actor) {
		return nil, apperrors.Forbidden("request belongs to another customer and professional")
	}
	return req, nil
}

func (s *LifecycleService) loadRequest(ctx context.Context, id string) (*model.ServiceRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if errors.Is(err, data.ErrRequestNotFound) {
		return nil, apperrors.NotFoundf("request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}

// authorizeTransition enforces which side of the booking may request each
// status change. Customers cancel; professionals start and complete.
func authorizeTransition(req *model.ServiceRequest, actor model.Actor, target model.RequestStatus) error {
	switch target {
	case model.StatusCancelled:
		if actor.Role != model.RoleCustomer || actor.ID != req.CustomerID {
			return apperrors.Forbidden("only the booking customer can cancel a request")
		}
	case model.StatusInProgress, model.StatusCompleted:
		if actor.Role != model.RoleProfessional || actor.ID != req.ProfessionalID {
			return apperrors.Forbidden("only the assigned professional can work a request")
		}
	case model.StatusRequested:
		return apperrors.InvalidTransition("no transition re-enters the initial status")
	default:
		return apperrors.Validationf("invalid target status: %q", target)
	}
	return nil
}
