package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/housecall/housecall/internal/core"

	"github.com/housecall/housecall/internal/domain/model"
)

// ReminderService emails each professional a digest of their open
// requests. It runs as the body of send_reminder jobs.
type ReminderService struct {
	requests core.RequestRepository
	users    core.UserRepository
	mailer   core.Mailer
	logger   *slog.Logger
}

// ReminderServiceOptions holds the dependencies for creating a ReminderService.
type ReminderServiceOptions struct {
	Requests core.RequestRepository
	Users    core.UserRepository
	Mailer   core.Mailer
	Logger   *slog.Logger
}

// NewReminderService creates a new ReminderService with the given dependencies.
func NewReminderService(opts ReminderServiceOptions) *ReminderService {
	if opts.Requests == nil {
		panic("RequestRepository is required")
	}
	if opts.Users == nil {
		panic("UserRepository is required")
	}
	if opts.Mailer == nil {
		panic("Mailer is required")
	}
	return &ReminderService{
		requests: opts.Requests,
		users:    opts.Users,
		mailer:   opts.Mailer,
		logger:   opts.Logger,
	}
}

// Run sends reminders to every active professional with at least one open
// request. A failed send is logged and skipped; one unreachable mailbox
// never blocks the rest of the batch. Returns a summary for the job result.
func (s *ReminderService) Run(ctx context.Context) (string, error) {
	pros, err := s.users.ListActiveProfessionals(ctx)
	if err != nil {
		return "", fmt.Errorf("list professionals: %w", err)
	}

	sent, failed := 0, 0
	for _, pro := range pros {
		open, err := s.requests.ListOpenByProfessional(ctx, pro.ID)
		if err != nil {
			return "", fmt.Errorf("list open requests for %s: %w", pro.ID, err)
		}
		if len(open) == 0 {
			continue
		}

		msg := core.MailMessage{
			To:      pro.Email,
			Subject: fmt.Sprintf("Reminder: %d pending service request(s)", len(open)),
			Body:    reminderBody(pro, open),
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			failed++
			if s.logger != nil {
				s.logger.WarnContext(ctx, "reminder send failed",
					"professional_id", pro.ID, "error", err)
			}
			continue
		}
		sent++
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "reminders processed", "sent", sent, "failed", failed)
	}
	return fmt.Sprintf("reminders sent=%d failed=%d", sent, failed), nil
}

func reminderBody(pro *model.User, open []*model.ServiceRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nYou have %d service request(s) waiting:\n\n", pro.Username, len(open))
	for _, req := range open {
		fmt.Fprintf(&b, "- %s (%s), requested %s\n",
			req.ServiceName, req.Status, req.CreatedAt.UTC().Format("2006-01-02"))
	}
	b.WriteString("\nPlease visit your dashboard to accept or reject them.\n")
	return b.String()
}
