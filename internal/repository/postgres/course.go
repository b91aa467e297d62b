package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samstikhin/ulearn-notifier/internal/model"
	"github.com/samstikhin/ulearn-notifier/internal/repository"
)

type courseRepository struct {
	BaseRepository
}

func NewCourseRepository(base BaseRepository) repository.CourseRepository {
	return &courseRepository{base}
}

func (r *courseRepository) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	var c model.Course
	err := r.db.GetContext(ctx, &c, `SELECT id, title FROM courses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course: %w", err)
	}
	return &c, nil
}
