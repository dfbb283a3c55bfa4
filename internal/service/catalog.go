package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/domain/model"
)

// Cache keys for the catalog. The list and each entry are cached
// separately; every write invalidates both synchronously before
// returning, so a read after a write never serves the old catalog.
const (
	catalogListKey     = "catalog:list"
	catalogEntryKeyFmt = "catalog:service:%s"
	defaultCatalogTTL  = 5 * time.Minute
)

// CatalogService manages the service catalog with a read-through cache in
// front of the database. The catalog is read-mostly; cache misses fall
// back to the repository and a cache outage degrades reads to direct
// database hits rather than failing them.
type CatalogService struct {
	repo   core.ServiceRepository
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// CatalogServiceOptions holds the dependencies for creating a CatalogService.
type CatalogServiceOptions struct {
	Repo   core.ServiceRepository
	Cache  core.CacheRepository // Optional: reads go direct when nil
	TTL    time.Duration
	Logger *slog.Logger
}

// NewCatalogService creates a new CatalogService with the given dependencies.
func NewCatalogService(opts CatalogServiceOptions) *CatalogService {
	if opts.Repo == nil {
		panic("ServiceRepository is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultCatalogTTL
	}
	return &CatalogService{
		repo:   opts.Repo,
		cache:  opts.Cache,
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

// Create adds a catalog entry and invalidates the cached list.
func (s *CatalogService) Create(ctx context.Context, req *model.CreateServiceRequest) (*model.Service, error) {
	svc, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	s.invalidate(ctx, svc.ID)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "catalog entry created", "id", svc.ID, "name", svc.Name)
	}
	return svc, nil
}

// GetByID returns one catalog entry, preferring the cache.
func (s *CatalogService) GetByID(ctx context.Context, id string) (*model.Service, error) {
	key := fmt.Sprintf(catalogEntryKeyFmt, id)
	if cached := s.getCached(ctx, key); cached != nil {
		var svc model.Service
		if err := json.Unmarshal(cached, &svc); err == nil {
			return &svc, nil
		}
	}

	svc, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrServiceNotFound) {
		return nil, apperrors.NotFoundf("service %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}

	s.setCached(ctx, key, svc)
	return svc, nil
}

// List returns the whole catalog, preferring the cache.
func (s *CatalogService) List(ctx context.Context) ([]*model.Service, error) {
	if cached := s.getCached(ctx, catalogListKey); cached != nil {
		var services []*model.Service
		if err := json.Unmarshal(cached, &services); err == nil {
			return services, nil
		}
	}

	services, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	s.setCached(ctx, catalogListKey, services)
	return services, nil
}

// Update overwrites a catalog entry and invalidates its cache entries
// before returning.
func (s *CatalogService) Update(ctx context.Context, id string, req *model.CreateServiceRequest) (*model.Service, error) {
	svc, err := s.repo.Update(ctx, id, req)
	if errors.Is(err, data.ErrServiceNotFound) {
		return nil, apperrors.NotFoundf("service %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update service: %w", err)
	}
	s.invalidate(ctx, id)
	return svc, nil
}

// Delete removes a catalog entry and invalidates its cache entries.
func (s *CatalogService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete service: %w", err)
	}
	if deleted {
		s.invalidate(ctx, id)
	}
	return deleted, nil
}

// getCached reads a key, treating every cache failure as a miss.
func (s *CatalogService) getCached(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	b, err := s.cache.Get(ctx, key)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "catalog cache read failed", "key", key, "error", err)
		}
		return nil
	}
	return b
}

// setCached writes a key best-effort.
func (s *CatalogService) setCached(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "catalog cache write failed", "key", key, "error", err)
	}
}

// invalidate drops the list key and the entry key. Failures are logged
// loudly: a stale entry outliving a write is the one cache failure mode
// this service promises not to hide.
func (s *CatalogService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	for _, key := range []string{catalogListKey, fmt.Sprintf(catalogEntryKeyFmt, id)} {
		if _, err := s.cache.Delete(ctx, key); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "catalog cache invalidation failed", "key", key, "error", err)
		}
	}
}
