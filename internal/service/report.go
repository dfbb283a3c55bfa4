package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/housecall/housecall/internal/core"

	"github.com/housecall/housecall/internal/domain/model"
)

// ReportService emails each customer a summary of their booking activity.
// It runs as the body of send_report jobs, fired monthly.
type ReportService struct {
	requests core.RequestRepository
	users    core.UserRepository
	mailer   core.Mailer
	logger   *slog.Logger
}

// ReportServiceOptions holds the dependencies for creating a ReportService.
type ReportServiceOptions struct {
	Requests core.RequestRepository
	Users    core.UserRepository
	Mailer   core.Mailer
	Logger   *slog.Logger
}

// NewReportService creates a new ReportService with the given dependencies.
func NewReportService(opts ReportServiceOptions) *ReportService {
	if opts.Requests == nil {
		panic("RequestRepository is required")
	}
	if opts.Users == nil {
		panic("UserRepository is required")
	}
	if opts.Mailer == nil {
		panic("Mailer is required")
	}
	return &ReportService{
		requests: opts.Requests,
		users:    opts.Users,
		mailer:   opts.Mailer,
		logger:   opts.Logger,
	}
}

// Run sends an activity report to every customer with booking history.
// Per-recipient failures are logged and skipped. Returns a summary for
// the job result.
func (s *ReportService) Run(ctx context.Context) (string, error) {
	customers, err := s.users.ListCustomers(ctx)
	if err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}

	sent, failed := 0, 0
	for _, customer := range customers {
		reqs, err := s.requests.ListByCustomer(ctx, customer.ID)
		if err != nil {
			return "", fmt.Errorf("list requests for %s: %w", customer.ID, err)
		}
		if len(reqs) == 0 {
			continue
		}

		msg := core.MailMessage{
			To:      customer.Email,
			Subject: "Your service activity report",
			Body:    reportBody(customer, reqs),
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			failed++
			if s.logger != nil {
				s.logger.WarnContext(ctx, "report send failed",
					"customer_id", customer.ID, "error", err)
			}
			continue
		}
		sent++
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "reports processed", "sent", sent, "failed", failed)
	}
	return fmt.Sprintf("reports sent=%d failed=%d", sent, failed), nil
}

func reportBody(customer *model.User, reqs []*model.ServiceRequest) string {
	counts := map[model.RequestStatus]int{}
	for _, req := range reqs {
		counts[req.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nHere is a summary of your service requests:\n\n", customer.Username)
	fmt.Fprintf(&b, "Total: %d\n", len(reqs))
	fmt.Fprintf(&b, "Requested: %d\n", counts[model.StatusRequested])
	fmt.Fprintf(&b, "In progress: %d\n", counts[model.StatusInProgress])
	fmt.Fprintf(&b, "Completed: %d\n", counts[model.StatusCompleted])
	fmt.Fprintf(&b, "Cancelled: %d\n\n", counts[model.StatusCancelled])
	for _, req := range reqs {
		fmt.Fprintf(&b, "- %s: %s (booked %s)\n",
			req.ServiceName, req.Status, req.CreatedAt.UTC().Format("2006-01-02"))
	}
	b.WriteString("\nThank you for using Housecall.\n")
	return b.String()
}
