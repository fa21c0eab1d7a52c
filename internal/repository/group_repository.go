package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-api/internal/models"
)

// ErrLimitBelowMembers reports a group update whose limit is smaller than its active membership.
var ErrLimitBelowMembers = errors.New("limit below current members")

const groupColumns = `id, no, "limit", is_deleted, created_at, updated_at`

// GroupRepository manages persistence for groups. Soft-deleted rows are
// invisible to every method.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs a new group repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// List returns all active groups ordered by id.
func (r *GroupRepository) List(ctx context.Context) ([]models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE is_deleted = FALSE ORDER BY id`
	groups := make([]models.Group, 0)
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// FindByID returns an active group or sql.ErrNoRows.
func (r *GroupRepository) FindByID(ctx context.Context, id int64) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1 AND is_deleted = FALSE`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ExistsByNo checks whether an active group already uses the number, optionally excluding an ID.
func (r *GroupRepository) ExistsByNo(ctx context.Context, no string, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM groups WHERE no = $1 AND is_deleted = FALSE AND id <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, no, excludeID); err != nil {
		return false, fmt.Errorf("check group no: %w", err)
	}
	return exists, nil
}

// CountStudents returns how many active students belong to the group, optionally excluding one.
func (r *GroupRepository) CountStudents(ctx context.Context, groupID, excludeStudentID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE group_id = $1 AND is_deleted = FALSE AND id <> $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID, excludeStudentID); err != nil {
		return 0, fmt.Errorf("count group students: %w", err)
	}
	return count, nil
}

// Create inserts a group and fills in the generated id and timestamps.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	now := time.Now().UTC()
	const query = `INSERT INTO groups (no, "limit", is_deleted, created_at, updated_at) VALUES ($1, $2, FALSE, $3, $3) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query, group.No, group.Limit, now).Scan(&group.ID); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	group.CreatedAt = now
	group.UpdatedAt = now
	return nil
}

// Update overwrites number and limit of an active group. The group row is
// locked and its members recounted so a concurrent student write cannot push
// membership past the new limit.
func (r *GroupRepository) Update(ctx context.Context, group *models.Group) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update group: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int64
	const lockQuery = `SELECT id FROM groups WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	if err = tx.GetContext(ctx, &locked, lockQuery, group.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock group: %w", err)
	}

	var count int
	const countQuery = `SELECT COUNT(*) FROM students WHERE group_id = $1 AND is_deleted = FALSE`
	if err = tx.GetContext(ctx, &count, countQuery, group.ID); err != nil {
		return fmt.Errorf("count group students: %w", err)
	}
	if group.Limit < count {
		return ErrLimitBelowMembers
	}

	group.UpdatedAt = time.Now().UTC()
	const query = `UPDATE groups SET no = $1, "limit" = $2, updated_at = $3 WHERE id = $4 AND is_deleted = FALSE`
	res, err := tx.ExecContext(ctx, query, group.No, group.Limit, group.UpdatedAt, group.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if err = expectAffected(res, "update group"); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update group: %w", err)
	}
	return nil
}

// SoftDelete flags the group as deleted. The row is kept.
func (r *GroupRepository) SoftDelete(ctx context.Context, id int64) error {
	const query = `UPDATE groups SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return expectAffected(res, "delete group")
}

// expectAffected maps a no-op write to sql.ErrNoRows.
func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
