package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/dto"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	"github.com/noah-isme/course-api/pkg/database"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

type groupRepository interface {
	List(ctx context.Context) ([]models.Group, error)
	FindByID(ctx context.Context, id int64) (*models.Group, error)
	ExistsByNo(ctx context.Context, no string, excludeID int64) (bool, error)
	CountStudents(ctx context.Context, groupID, excludeStudentID int64) (int, error)
	Create(ctx context.Context, group *models.Group) error
	Update(ctx context.Context, group *models.Group) error
	SoftDelete(ctx context.Context, id int64) error
}

// GroupService implements group use cases.
type GroupService struct {
	repo      groupRepository
	cache     *CacheService
	validator *validator.Validate
	observer  operationObserver
}

// NewGroupService constructs a GroupService. cache and metrics may be nil.
func NewGroupService(repo groupRepository, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *GroupService {
	if validate == nil {
		validate = validator.New()
	}
	return &GroupService{
		repo:      repo,
		cache:     cache,
		validator: validate,
		observer:  newOperationObserver("group", logger, metrics),
	}
}

// Create registers a new group and returns its id.
func (s *GroupService) Create(ctx context.Context, req dto.CreateGroupRequest) (id int64, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "create", start, err, zap.Int64("group_id", id), zap.String("no", req.No)) }()

	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}

	exists, err := s.repo.ExistsByNo(ctx, req.No, 0)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check group number")
	}
	if exists {
		return 0, groupNoTaken()
	}

	group := &models.Group{No: req.No, Limit: req.Limit}
	if err := s.repo.Create(ctx, group); err != nil {
		if database.IsUniqueViolation(err, database.GroupNoUniqueIndex) {
			return 0, groupNoTaken()
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}

	s.invalidate(ctx, groupCachePattern)
	return group.ID, nil
}

// List returns every active group.
func (s *GroupService) List(ctx context.Context) (items []dto.GroupResponse, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "list", start, err, zap.Int("count", len(items))) }()

	var cached []dto.GroupResponse
	if hit, _ := s.cache.Get(ctx, groupListCacheKey, &cached); hit {
		return cached, nil
	}

	groups, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}

	items = make([]dto.GroupResponse, 0, len(groups))
	for i := range groups {
		items = append(items, toGroupResponse(&groups[i]))
	}
	_ = s.cache.Set(ctx, groupListCacheKey, items, 0)
	return items, nil
}

// Get returns an active group by id.
func (s *GroupService) Get(ctx context.Context, id int64) (resp *dto.GroupResponse, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "get", start, err, zap.Int64("group_id", id)) }()

	group, err := s.findGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	out := toGroupResponse(group)
	return &out, nil
}

// Update replaces number and limit of an active group.
func (s *GroupService) Update(ctx context.Context, id int64, req dto.UpdateGroupRequest) (err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "update", start, err, zap.Int64("group_id", id)) }()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}

	group, err := s.findGroup(ctx, id)
	if err != nil {
		return err
	}

	if req.No != group.No {
		exists, err := s.repo.ExistsByNo(ctx, req.No, id)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check group number")
		}
		if exists {
			return groupNoTaken()
		}
	}

	if req.Limit < group.Limit {
		count, err := s.repo.CountStudents(ctx, id, 0)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count group students")
		}
		if req.Limit < count {
			return limitBelowMembers()
		}
	}

	group.No = req.No
	group.Limit = req.Limit
	if err := s.repo.Update(ctx, group); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "group not found")
		case errors.Is(err, repository.ErrLimitBelowMembers):
			return limitBelowMembers()
		case database.IsUniqueViolation(err, database.GroupNoUniqueIndex):
			return groupNoTaken()
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update group")
	}

	s.invalidate(ctx, groupCachePattern, studentCachePattern)
	return nil
}

// Delete soft-deletes an active group. Its students are left untouched.
func (s *GroupService) Delete(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "delete", start, err, zap.Int64("group_id", id)) }()

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete group")
	}

	s.invalidate(ctx, groupCachePattern, studentCachePattern)
	return nil
}

func (s *GroupService) findGroup(ctx context.Context, id int64) (*models.Group, error) {
	group, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return group, nil
}

func (s *GroupService) invalidate(ctx context.Context, patterns ...string) {
	_ = s.cache.Invalidate(ctx, patterns...)
}

func groupNoTaken() *appErrors.Error {
	return appErrors.WithField(appErrors.ErrConflict, "no", "group already exists by given number")
}

func limitBelowMembers() *appErrors.Error {
	return appErrors.WithField(appErrors.ErrValidation, "limit", "limit is below the current number of students")
}

func toGroupResponse(g *models.Group) dto.GroupResponse {
	return dto.GroupResponse{ID: g.ID, No: g.No, Limit: g.Limit}
}
