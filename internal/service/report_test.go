package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecall/housecall/internal/domain/model"
)

func newReportFixture() (*ReportService, *fakeRequestRepo, *fakeUserRepo, *fakeMailer) {
	requests := newFakeRequestRepo()
	users := newFakeUserRepo()
	mailer := newFakeMailer()
	svc := NewReportService(ReportServiceOptions{
		Requests: requests,
		Users:    users,
		Mailer:   mailer,
	})
	return svc, requests, users, mailer
}

func TestReportRunSummarizesCustomerActivity(t *testing.T) {
	svc, requests, users, mailer := newReportFixture()

	alice := users.add(&model.User{
		Role: model.RoleCustomer, Active: true,
		Username: "alice", Email: "alice@example.com",
	})
	// A customer with no bookings gets no report.
	users.add(&model.User{Role: model.RoleCustomer, Active: true, Email: "quiet@example.com"})

	for _, status := range []model.RequestStatus{
		model.StatusCompleted, model.StatusCompleted, model.StatusCancelled, model.StatusRequested,
	} {
		requests.add(&model.ServiceRequest{
			ServiceName: "plumbing", CustomerID: alice.ID,
			ProfessionalID: "pro-1", Status: status,
		})
	}

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reports sent=1 failed=0", result)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0].msg
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Your service activity report", msg.Subject)
	assert.Contains(t, msg.Body, "Hello alice,")
	assert.Contains(t, msg.Body, "Total: 4")
	assert.Contains(t, msg.Body, "Completed: 2")
	assert.Contains(t, msg.Body, "Cancelled: 1")
	assert.Contains(t, msg.Body, "Requested: 1")
	assert.Contains(t, msg.Body, "In progress: 0")
}

func TestReportRunSkipsFailedMailbox(t *testing.T) {
	svc, requests, users, mailer := newReportFixture()

	broken := users.add(&model.User{Role: model.RoleCustomer, Active: true, Email: "down@example.com"})
	healthy := users.add(&model.User{Role: model.RoleCustomer, Active: true, Email: "up@example.com"})
	for _, cust := range []*model.User{broken, healthy} {
		requests.add(&model.ServiceRequest{
			ServiceName: "cleaning", CustomerID: cust.ID,
			ProfessionalID: "pro-1", Status: model.StatusCompleted,
		})
	}
	mailer.failTo["down@example.com"] = errSentinel("smtp")

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reports sent=1 failed=1", result)
	assert.Equal(t, []string{"up@example.com"}, mailer.recipients())
}

func TestReportRunPropagatesRepoFailure(t *testing.T) {
	svc, requests, users, _ := newReportFixture()
	users.add(&model.User{Role: model.RoleCustomer, Active: true})
	requests.failWith = errSentinel("requests")

	_, err := svc.Run(context.Background())
	assert.Error(t, err)
}
