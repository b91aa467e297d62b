package course

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
)

type Config struct {
	CacheDuration   time.Duration
	CleanupInterval time.Duration
}

// Resolver looks up courses for the single item send path. Found courses are
// cached; misses always go to the repository because a course may be created
// after the notification that mentions it.
type Resolver struct {
	repo  repository.CourseRepository
	cache *cache.Cache
}

func NewResolver(repo repository.CourseRepository, config Config) *Resolver {
	if config.CacheDuration <= 0 {
		config.CacheDuration = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	return &Resolver{
		repo:  repo,
		cache: cache.New(config.CacheDuration, config.CleanupInterval),
	}
}

// FindCourse returns nil, nil when the course does not exist.
func (r *Resolver) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	if cached, found := r.cache.Get(id); found {
		return cached.(*model.Course), nil
	}

	c, err := r.repo.FindCourse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find course %s: %w", id, err)
	}
	if c == nil {
		return nil, nil
	}

	r.cache.Set(id, c, cache.DefaultExpiration)
	return c, nil
}

// Forget drops a cached course, e.g. after it was renamed.
func (r *Resolver) Forget(id string) {
	r.cache.Delete(id)
}
