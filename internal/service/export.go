package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"

	"github.com/housecall/housecall/internal/domain/model"
)

// exportTimestampLayout names export files down to the second, so repeated
// exports never clobber each other.
const exportTimestampLayout = "20060102_150405"

// Placeholders for rows whose referenced user no longer resolves or whose
// review was never written. A missing reference degrades the row, not the
// export.
const (
	exportUnknownUser = "Unknown"
	exportNoRemarks   = "No remarks"
)

// exportHeader is the fixed column set of the completed-requests export.
var exportHeader = []string{
	"service_id",
	"service_name",
	"customer_id",
	"customer_email",
	"professional_id",
	"professional_email",
	"date_of_request",
	"date_of_completion",
	"remarks",
}

// ExportService builds the CSV artifact of completed requests. It runs as
// a job body on the worker; the job result is the written file path.
type ExportService struct {
	requests     core.RequestRepository
	users        core.UserRepository
	dir          string
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// ExportServiceOptions holds the dependencies for creating an ExportService.
type ExportServiceOptions struct {
	Requests     core.RequestRepository
	Users        core.UserRepository
	Dir          string
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewExportService creates a new ExportService with the given dependencies.
func NewExportService(opts ExportServiceOptions) *ExportService {
	if opts.Requests == nil {
		panic("RequestRepository is required")
	}
	if opts.Users == nil {
		panic("UserRepository is required")
	}
	if opts.Dir == "" {
		opts.Dir = "exports"
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	return &ExportService{
		requests:     opts.Requests,
		users:        opts.Users,
		dir:          opts.Dir,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}
}

// Run writes the completed-requests CSV and returns the file path. An
// empty data set still produces a file with the header row, so consumers
// can distinguish "no completions" from "export never ran".
func (s *ExportService) Run(ctx context.Context) (string, error) {
	completed, err := s.requests.ListCompleted(ctx)
	if err != nil {
		return "", fmt.Errorf("list completed requests: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("completed_services_%s.csv",
		s.timeProvider.Now().UTC().Format(exportTimestampLayout))
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path) // #nosec G304 -- path is built from configured dir and a timestamp.
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)
	if err := w.Write(exportHeader); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}

	emails := map[string]string{}
	for _, req := range completed {
		row := s.buildRow(ctx, req, emails)
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write export row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "export written", "path", path, "rows", len(completed))
	}
	return path, nil
}

func (s *ExportService) buildRow(ctx context.Context, req *model.ServiceRequest, emails map[string]string) []string {
	completedAt := ""
	if req.CompletedAt != nil {
		completedAt = req.CompletedAt.UTC().Format("2006-01-02 15:04:05")
	}
	remarks := exportNoRemarks
	if req.Review != nil && *req.Review != "" {
		remarks = *req.Review
	}
	return []string{
		req.ServiceID,
		req.ServiceName,
		req.CustomerID,
		s.emailOf(ctx, req.CustomerID, emails),
		req.ProfessionalID,
		s.emailOf(ctx, req.ProfessionalID, emails),
		req.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		completedAt,
		remarks,
	}
}

// emailOf resolves a user id to an email, memoizing per export run.
func (s *ExportService) emailOf(ctx context.Context, id string, cache map[string]string) string {
	if id == "" {
		return exportUnknownUser
	}
	if email, ok := cache[id]; ok {
		return email
	}

	email := exportUnknownUser
	user, err := s.users.GetByID(ctx, id)
	switch {
	case errors.Is(err, data.ErrUserNotFound):
		// Keep the placeholder; the request row is still exported.
	case err != nil:
		if s.logger != nil {
			s.logger.WarnContext(ctx, "resolve user for export failed", "user_id", id, "error", err)
		}
	default:
		email = user.Email
	}
	cache[id] = email
	return email
}
