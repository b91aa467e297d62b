package course

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/samstikhin/ulearn-notifier/internal/model"
)

type mockCourseRepo struct {
	mock.Mock
}

func (m *mockCourseRepo) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*model.Course)
	return c, args.Error(1)
}

func TestResolver_CachesFoundCourses(t *testing.T) {
	repo := &mockCourseRepo{}
	repo.On("FindCourse", mock.Anything, "basic").Return(&model.Course{ID: "basic", Title: "Basic programming"}, nil).Once()

	r := NewResolver(repo, Config{})
	for i := 0; i < 3; i++ {
		c, err := r.FindCourse(context.Background(), "basic")
		require.NoError(t, err)
		assert.Equal(t, "Basic programming", c.Title)
	}
	repo.AssertExpectations(t)
}

func TestResolver_MissIsNotCached(t *testing.T) {
	repo := &mockCourseRepo{}
	repo.On("FindCourse", mock.Anything, "gone").Return(nil, nil).Twice()

	r := NewResolver(repo, Config{})
	for i := 0; i < 2; i++ {
		c, err := r.FindCourse(context.Background(), "gone")
		require.NoError(t, err)
		assert.Nil(t, c)
	}
	repo.AssertExpectations(t)
}

func TestResolver_Forget(t *testing.T) {
	repo := &mockCourseRepo{}
	repo.On("FindCourse", mock.Anything, "c").Return(&model.Course{ID: "c"}, nil).Twice()

	r := NewResolver(repo, Config{})
	_, err := r.FindCourse(context.Background(), "c")
	require.NoError(t, err)
	r.Forget("c")
	_, err = r.FindCourse(context.Background(), "c")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestResolver_RepositoryError(t *testing.T) {
	repo := &mockCourseRepo{}
	repo.On("FindCourse", mock.Anything, "c").Return(nil, errors.New("connection refused"))

	r := NewResolver(repo, Config{})
	_, err := r.FindCourse(context.Background(), "c")
	assert.ErrorContains(t, err, "connection refused")
}
