package service

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/course-api/internal/dto"
	"github.com/noah-isme/course-api/internal/repository"
	"github.com/noah-isme/course-api/pkg/database"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

func newGroupServiceForTest(db *memoryDB) (*GroupService, *fakeGroupRepo) {
	repo := &fakeGroupRepo{db: db}
	return NewGroupService(repo, nil, nil, nil, zap.NewNop()), repo
}

func requireKind(t *testing.T, err error, kind *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected typed error, got %v", err)
	assert.Equal(t, kind.Code, appErr.Code)
	assert.Equal(t, kind.Status, appErr.Status)
	return appErr
}

func TestGroupServiceCreateAndGet(t *testing.T) {
	svc, _ := newGroupServiceForTest(newMemoryDB())
	ctx := context.Background()

	id, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)

	group, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, dto.GroupResponse{ID: id, No: "G1", Limit: 2}, *group)
}

func TestGroupServiceCreateDuplicateNo(t *testing.T) {
	svc, _ := newGroupServiceForTest(newMemoryDB())
	ctx := context.Background()

	_, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)

	_, err = svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 5})
	appErr := requireKind(t, err, appErrors.ErrConflict)
	assert.Equal(t, "no", appErr.Field)
}

func TestGroupServiceCreateValidation(t *testing.T) {
	svc, _ := newGroupServiceForTest(newMemoryDB())

	_, err := svc.Create(context.Background(), dto.CreateGroupRequest{No: "", Limit: 0})
	requireKind(t, err, appErrors.ErrValidation)
}

func TestGroupServiceSoftDeleteHidesGroup(t *testing.T) {
	db := newMemoryDB()
	svc, _ := newGroupServiceForTest(db)
	ctx := context.Background()

	keep, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)
	gone, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G2", Limit: 2})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, gone))

	_, err = svc.Get(ctx, gone)
	requireKind(t, err, appErrors.ErrNotFound)

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep, items[0].ID)

	require.Contains(t, db.groups, gone)
	assert.True(t, db.groups[gone].IsDeleted)

	requireKind(t, svc.Delete(ctx, gone), appErrors.ErrNotFound)
}

func TestGroupServiceDeletedNoCanBeReused(t *testing.T) {
	svc, _ := newGroupServiceForTest(newMemoryDB())
	ctx := context.Background()

	id, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, id))

	_, err = svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 3})
	assert.NoError(t, err)
}

func TestGroupServiceUpdate(t *testing.T) {
	db := newMemoryDB()
	svc, _ := newGroupServiceForTest(db)
	ctx := context.Background()

	g1, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)
	_, err = svc.Create(ctx, dto.CreateGroupRequest{No: "G2", Limit: 2})
	require.NoError(t, err)

	t.Run("conflicting number", func(t *testing.T) {
		err := svc.Update(ctx, g1, dto.UpdateGroupRequest{No: "G2", Limit: 2})
		requireKind(t, err, appErrors.ErrConflict)
	})

	t.Run("same number keeps working", func(t *testing.T) {
		require.NoError(t, svc.Update(ctx, g1, dto.UpdateGroupRequest{No: "G1", Limit: 4}))
		group, err := svc.Get(ctx, g1)
		require.NoError(t, err)
		assert.Equal(t, 4, group.Limit)
	})

	t.Run("limit below members", func(t *testing.T) {
		students := &fakeStudentRepo{db: db}
		for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
			require.NoError(t, students.Create(ctx, sampleStudentModel(g1, email)))
		}
		err := svc.Update(ctx, g1, dto.UpdateGroupRequest{No: "G1", Limit: 2})
		appErr := requireKind(t, err, appErrors.ErrValidation)
		assert.Equal(t, "limit", appErr.Field)
	})

	t.Run("missing group", func(t *testing.T) {
		err := svc.Update(ctx, 999, dto.UpdateGroupRequest{No: "G9", Limit: 2})
		requireKind(t, err, appErrors.ErrNotFound)
	})
}

func TestGroupServiceUpdateWriteGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("members joined after the count", func(t *testing.T) {
		svc, repo := newGroupServiceForTest(newMemoryDB())
		id, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
		require.NoError(t, err)

		repo.updateErr = repository.ErrLimitBelowMembers
		err = svc.Update(ctx, id, dto.UpdateGroupRequest{No: "G1", Limit: 1})
		appErr := requireKind(t, err, appErrors.ErrValidation)
		assert.Equal(t, "limit", appErr.Field)
	})

	t.Run("unique index violation", func(t *testing.T) {
		svc, repo := newGroupServiceForTest(newMemoryDB())
		id, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
		require.NoError(t, err)

		repo.updateErr = &pq.Error{Code: "23505", Constraint: database.GroupNoUniqueIndex}
		err = svc.Update(ctx, id, dto.UpdateGroupRequest{No: "G2", Limit: 2})
		appErr := requireKind(t, err, appErrors.ErrConflict)
		assert.Equal(t, "no", appErr.Field)
	})
}

func TestGroupServiceListUsesCache(t *testing.T) {
	db := newMemoryDB()
	repo := &fakeGroupRepo{db: db}
	cacheRepo := newFakeCacheRepo()
	cache := NewCacheService(cacheRepo, nil, 0, nil, true)
	svc := NewGroupService(repo, cache, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)

	first, err := svc.List(ctx)
	require.NoError(t, err)
	second, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.listCalls)

	_, err = svc.Create(ctx, dto.CreateGroupRequest{No: "G2", Limit: 2})
	require.NoError(t, err)
	assert.Contains(t, cacheRepo.deleted, groupCachePattern)

	third, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, 2, repo.listCalls)
}

func TestGroupServiceRecordsOperations(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetricsService()
	repo := &fakeGroupRepo{db: newMemoryDB(), listErr: errBoom}
	svc := NewGroupService(repo, nil, metrics, nil, zap.New(core))
	ctx := context.Background()

	_, err := svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.NoError(t, err)
	_, err = svc.Create(ctx, dto.CreateGroupRequest{No: "G1", Limit: 2})
	require.Error(t, err)
	_, err = svc.List(ctx)
	requireKind(t, err, appErrors.ErrInternal)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "create", entries[1].ContextMap()["operation"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("group", "create", outcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("group", "create", appErrors.ErrConflict.Code)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.operationTotal.WithLabelValues("group", "list", appErrors.ErrInternal.Code)))
}
