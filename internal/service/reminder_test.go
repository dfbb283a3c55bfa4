package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecall/housecall/internal/domain/model"
)

func newReminderFixture() (*ReminderService, *fakeRequestRepo, *fakeUserRepo, *fakeMailer) {
	requests := newFakeRequestRepo()
	users := newFakeUserRepo()
	mailer := newFakeMailer()
	svc := NewReminderService(ReminderServiceOptions{
		Requests: requests,
		Users:    users,
		Mailer:   mailer,
	})
	return svc, requests, users, mailer
}

func TestReminderRunEmailsProfessionalsWithOpenWork(t *testing.T) {
	svc, requests, users, mailer := newReminderFixture()

	busy := users.add(&model.User{
		Role: model.RoleProfessional, Active: true,
		Username: "bob", Email: "bob@example.com",
	})
	idle := users.add(&model.User{
		Role: model.RoleProfessional, Active: true,
		Username: "carol", Email: "carol@example.com",
	})
	requests.add(&model.ServiceRequest{
		ServiceName: "plumbing", ProfessionalID: busy.ID,
		CustomerID: "cust-1", Status: model.StatusRequested,
		CreatedAt: time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC),
	})
	requests.add(&model.ServiceRequest{
		ServiceName: "wiring", ProfessionalID: busy.ID,
		CustomerID: "cust-2", Status: model.StatusInProgress,
	})
	// Completed work does not trigger a reminder for the idle professional.
	requests.add(&model.ServiceRequest{
		ServiceName: "painting", ProfessionalID: idle.ID,
		CustomerID: "cust-3", Status: model.StatusCompleted,
	})

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reminders sent=1 failed=0", result)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0].msg
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, "Reminder: 2 pending service request(s)", msg.Subject)
	assert.Contains(t, msg.Body, "Hello bob,")
	assert.Contains(t, msg.Body, "- plumbing (requested), requested 2026-08-01")
	assert.Contains(t, msg.Body, "- wiring (in_progress)")
}

func TestReminderRunSkipsIdleProfessional(t *testing.T) {
	svc, requests, users, mailer := newReminderFixture()

	plumber := users.add(&model.User{
		Role: model.RoleProfessional, Active: true, Email: "plumber@example.com",
	})
	electrician := users.add(&model.User{
		Role: model.RoleProfessional, Active: true, Email: "electrician@example.com",
	})
	users.add(&model.User{
		Role: model.RoleProfessional, Active: true, Email: "painter@example.com",
	})
	requests.add(&model.ServiceRequest{
		ServiceName: "plumbing", ProfessionalID: plumber.ID,
		CustomerID: "cust-1", Status: model.StatusRequested,
	})
	requests.add(&model.ServiceRequest{
		ServiceName: "wiring", ProfessionalID: electrician.ID,
		CustomerID: "cust-2", Status: model.StatusInProgress,
	})

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reminders sent=2 failed=0", result)
	assert.ElementsMatch(t,
		[]string{"plumber@example.com", "electrician@example.com"},
		mailer.recipients(), "the painter has nothing pending and gets no mail")
}

func TestReminderRunSkipsFailedMailbox(t *testing.T) {
	svc, requests, users, mailer := newReminderFixture()

	broken := users.add(&model.User{
		Role: model.RoleProfessional, Active: true, Email: "down@example.com",
	})
	healthy := users.add(&model.User{
		Role: model.RoleProfessional, Active: true, Email: "up@example.com",
	})
	for _, pro := range []*model.User{broken, healthy} {
		requests.add(&model.ServiceRequest{
			ServiceName: "plumbing", ProfessionalID: pro.ID,
			CustomerID: "cust-1", Status: model.StatusRequested,
		})
	}
	mailer.failTo["down@example.com"] = errSentinel("smtp")

	result, err := svc.Run(context.Background())
	require.NoError(t, err, "one dead mailbox never fails the batch")
	assert.Equal(t, "reminders sent=1 failed=1", result)
	assert.Equal(t, []string{"up@example.com"}, mailer.recipients())
}

func TestReminderRunNoOpenWork(t *testing.T) {
	svc, _, users, mailer := newReminderFixture()
	users.add(&model.User{Role: model.RoleProfessional, Active: true})

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reminders sent=0 failed=0", result)
	assert.Empty(t, mailer.sent)
}

func TestReminderRunPropagatesRepoFailure(t *testing.T) {
	svc, _, users, _ := newReminderFixture()
	users.failWith = errSentinel("users")

	_, err := svc.Run(context.Background())
	assert.Error(t, err)
}
