package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/domain/model"
)

// In-memory fakes for the core ports. They honor the same contracts the
// data package implements (sentinel errors, CAS semantics) so service
// tests exercise real decision paths.

type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*model.ServiceRequest

	failWith error
	// beforeUpdate runs at the top of UpdateStatus, outside the lock, so
	// tests can interleave a competing write between read and CAS.
	beforeUpdate func()
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[string]*model.ServiceRequest)}
}

func (f *fakeRequestRepo) add(req *model.ServiceRequest) *model.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	cp := *req
	f.requests[req.ID] = &cp
	return req
}

func (f *fakeRequestRepo) Create(_ context.Context, p core.CreateRequestParams) (*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	req := &model.ServiceRequest{
		ID:             uuid.NewString(),
		ServiceID:      p.ServiceID,
		ServiceName:    p.ServiceName,
		CustomerID:     p.CustomerID,
		ProfessionalID: p.ProfessionalID,
		Status:         model.StatusRequested,
		CreatedAt:      time.Now().UTC(),
	}
	f.add(req)
	return req, nil
}

func (f *fakeRequestRepo) GetByID(_ context.Context, id string) (*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, data.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRequestRepo) UpdateStatus(_ context.Context, p core.UpdateStatusParams) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[p.ID]
	if !ok || req.Status != p.From {
		return false, nil
	}
	req.Status = p.To
	if req.CompletedAt == nil && p.CompletedAt != nil {
		req.CompletedAt = p.CompletedAt
	}
	return true, nil
}

func (f *fakeRequestRepo) SetReview(_ context.Context, id, review string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != model.StatusCompleted {
		return false, nil
	}
	req.Review = &review
	return true, nil
}

func (f *fakeRequestRepo) ListCompleted(_ context.Context) ([]*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listWhere(func(r *model.ServiceRequest) bool {
		return r.Status == model.StatusCompleted
	}), nil
}

func (f *fakeRequestRepo) ListClosed(_ context.Context) ([]*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listWhere(func(r *model.ServiceRequest) bool {
		return r.Status.Terminal()
	}), nil
}

func (f *fakeRequestRepo) ListOpenByProfessional(_ context.Context, professionalID string) ([]*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listWhere(func(r *model.ServiceRequest) bool {
		return r.ProfessionalID == professionalID && r.Open()
	}), nil
}

func (f *fakeRequestRepo) ListByCustomer(_ context.Context, customerID string) ([]*model.ServiceRequest, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listWhere(func(r *model.ServiceRequest) bool {
		return r.CustomerID == customerID
	}), nil
}

func (f *fakeRequestRepo) listWhere(match func(*model.ServiceRequest) bool) []*model.ServiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ServiceRequest
	for _, req := range f.requests {
		if match(req) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type fakeUserRepo struct {
	users        map[string]*model.User
	professional *model.User // returned by PickProfessional; nil means none available
	failWith     error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) add(u *model.User) *model.User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Email == "" {
		u.Email = u.ID + "@example.com"
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[id]
	if !ok {
		return nil, data.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) PickProfessional(_ context.Context, _ string) (*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.professional, nil
}

func (f *fakeUserRepo) ListActiveProfessionals(_ context.Context) ([]*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listByRole(model.RoleProfessional), nil
}

func (f *fakeUserRepo) ListCustomers(_ context.Context) ([]*model.User, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listByRole(model.RoleCustomer), nil
}

func (f *fakeUserRepo) listByRole(role model.Role) []*model.User {
	var out []*model.User
	for _, u := range f.users {
		if u.Role == role && u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	// order preserves submission order for ReserveNext.
	order []string

	failWith    error
	deleteCalls []int
	// deleteReturns feeds successive DeleteFinishedBefore results; empty
	// means "delete nothing".
	deleteReturns []int64
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.Job)}
}

func (f *fakeJobRepo) Submit(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &model.Job{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Status:      model.JobStatusPending,
		Args:        req.Args,
		MaxRetries:  0,
		SubmittedAt: time.Now().UTC(),
	}
	if req.Kind.RetrySafe() {
		job.MaxRetries = 3
	}
	f.jobs[job.ID] = job
	f.order = append(f.order, job.ID)
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) ReserveNext(_ context.Context) (*model.Job, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		job := f.jobs[id]
		if job.Status == model.JobStatusPending {
			job.Status = model.JobStatusRunning
			now := time.Now().UTC()
			job.StartedAt = &now
			cp := *job
			return &cp, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

func (f *fakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeJobRepo) Succeed(_ context.Context, id, result string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusSucceeded
	job.Result = &result
	job.FinishedAt = &now
	return true, nil
}

func (f *fakeJobRepo) Fail(_ context.Context, id, errMsg string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.LastError = &errMsg
	if job.RetryCount < job.MaxRetries {
		job.RetryCount++
		job.Status = model.JobStatusPending
		job.StartedAt = nil
		return true, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.FinishedAt = &now
	return true, nil
}

func (f *fakeJobRepo) CancelPending(_ context.Context, id string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	delete(f.jobs, id)
	return true, nil
}

func (f *fakeJobRepo) DeleteFinishedBefore(_ context.Context, _ time.Time, batchSize int) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, batchSize)
	if len(f.deleteReturns) == 0 {
		return 0, nil
	}
	n := f.deleteReturns[0]
	f.deleteReturns = f.deleteReturns[1:]
	return n, nil
}

type sentMail struct {
	msg core.MailMessage
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	failTo map[string]error
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failTo: make(map[string]error)}
}

func (f *fakeMailer) Send(_ context.Context, msg core.MailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failTo[msg.To]; ok {
		return err
	}
	f.sent = append(f.sent, sentMail{msg: msg})
	return nil
}

func (f *fakeMailer) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.msg.To)
	}
	return out
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte

	gets, sets, deletes []string
	failGet             error
	failSet             error
	failDelete          error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)
	if f.failGet != nil {
		return nil, f.failGet
	}
	return f.entries[key], nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, key)
	if f.failSet != nil {
		return f.failSet
	}
	f.entries[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	if f.failDelete != nil {
		return false, f.failDelete
	}
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

type fakeServiceRepo struct {
	mu       sync.Mutex
	services map[string]*model.Service
	failWith error
}

func newFakeServiceRepo() *fakeServiceRepo {
	return &fakeServiceRepo{services: make(map[string]*model.Service)}
}

func (f *fakeServiceRepo) Create(_ context.Context, req *model.CreateServiceRequest) (*model.Service, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	svc := &model.Service{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Price:        req.Price,
		TimeRequired: req.TimeRequired,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}
	f.services[svc.ID] = svc
	return svc, nil
}

func (f *fakeServiceRepo) GetByID(_ context.Context, id string) (*model.Service, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	if !ok {
		return nil, data.ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (f *fakeServiceRepo) List(_ context.Context) ([]*model.Service, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Service, 0, len(f.services))
	for _, svc := range f.services {
		cp := *svc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeServiceRepo) Update(_ context.Context, id string, req *model.CreateServiceRequest) (*model.Service, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	svc, ok := f.services[id]
	if !ok {
		return nil, data.ErrServiceNotFound
	}
	svc.Name = req.Name
	svc.Price = req.Price
	svc.TimeRequired = req.TimeRequired
	svc.Description = req.Description
	cp := *svc
	return &cp, nil
}

func (f *fakeServiceRepo) Delete(_ context.Context, id string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.services[id]
	delete(f.services, id)
	return ok, nil
}

// fakeTaskRepo simulates the scheduled task store. TryWithTaskLock runs fn
// with a nil transaction; the fakes downstream ignore it.
type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks []model.ScheduledTask

	lockHeldElsewhere bool
	markFiredFails    error
	vanishOnMark      bool
}

func (f *fakeTaskRepo) FindDueTx(_ context.Context, _ *sql.Tx, now time.Time, limit int) ([]model.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []model.ScheduledTask
	for _, task := range f.tasks {
		if !task.NextFireAt.After(now) {
			due = append(due, task)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakeTaskRepo) MarkFiredTx(_ context.Context, _ *sql.Tx, task *model.ScheduledTask, firedAt time.Time) (bool, error) {
	if f.markFiredFails != nil {
		return false, f.markFiredFails
	}
	if f.vanishOnMark {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == task.ID {
			fired := firedAt.UTC()
			f.tasks[i].LastFiredAt = &fired
			f.tasks[i].NextFireAt = task.NextFireAfter(fired)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTaskRepo) List(_ context.Context) ([]model.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ScheduledTask, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeTaskRepo) TryWithTaskLock(ctx context.Context, _ string, fn func(context.Context, *sql.Tx) error) (bool, error) {
	if f.lockHeldElsewhere {
		return false, nil
	}
	if err := fn(ctx, nil); err != nil {
		return true, err
	}
	return true, nil
}

// fakeTxJobRepo is a fakeJobRepo that also advertises transactional
// submission, so scheduler tests exercise the preferred path.
type fakeTxJobRepo struct {
	fakeJobRepo
	txSubmits int
}

func (f *fakeTxJobRepo) SubmitInTx(ctx context.Context, _ *sql.Tx, req *model.SubmitJobRequest) (*model.Job, error) {
	f.txSubmits++
	return f.Submit(ctx, req)
}

// errSentinel builds a distinct error for failure-path assertions.
func errSentinel(label string) error {
	return fmt.Errorf("%s boom", label)
}

var (
	_ core.RequestRepository       = (*fakeRequestRepo)(nil)
	_ core.UserRepository          = (*fakeUserRepo)(nil)
	_ core.JobRepository           = (*fakeJobRepo)(nil)
	_ core.Mailer                  = (*fakeMailer)(nil)
	_ core.CacheRepository         = (*fakeCache)(nil)
	_ core.ServiceRepository       = (*fakeServiceRepo)(nil)
	_ core.ScheduledTaskRepository = (*fakeTaskRepo)(nil)
	_ core.JobRepositoryTx         = (*fakeTxJobRepo)(nil)
)
