package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/database"
)

// Errors reported by guarded student writes.
var (
	ErrGroupNotFound = errors.New("group not found")
	ErrGroupFull     = errors.New("group is full")
	ErrEmailTaken    = errors.New("email already used")
)

const studentDetailSelect = `SELECT s.id, s.full_name, s.email, s.birth_date, s.group_id, s.photo, s.is_deleted, s.created_at, s.updated_at,
        g.no AS group_name
        FROM students s
        JOIN groups g ON g.id = s.group_id`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns all active students with their group number.
func (r *StudentRepository) List(ctx context.Context) ([]models.StudentDetail, error) {
	query := studentDetailSelect + ` WHERE s.is_deleted = FALSE ORDER BY s.id`
	students := make([]models.StudentDetail, 0)
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// FindByID fetches an active student detail or sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	query := studentDetailSelect + ` WHERE s.id = $1 AND s.is_deleted = FALSE`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByEmail checks case-insensitively for an active student with the email, optionally excluding an ID.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email string, excludeID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM students WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE AND id <> $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, email, excludeID); err != nil {
		return false, fmt.Errorf("check student email: %w", err)
	}
	return exists, nil
}

// Create inserts a student after re-checking group availability, capacity and
// email uniqueness inside one transaction holding the group row lock.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	return r.guardedWrite(ctx, student, 0, "create student", func(tx *sqlx.Tx) error {
		const query = `INSERT INTO students (full_name, email, birth_date, group_id, photo, is_deleted, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, FALSE, $6, $6) RETURNING id`
		if err := tx.QueryRowxContext(ctx, query, student.FullName, student.Email, student.BirthDate, student.GroupID, student.Photo, now).Scan(&student.ID); err != nil {
			return err
		}
		student.CreatedAt = now
		student.UpdatedAt = now
		return nil
	})
}

// Update replaces the student's fields under the same guards as Create,
// ignoring the student's own membership and email.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	return r.guardedWrite(ctx, student, student.ID, "update student", func(tx *sqlx.Tx) error {
		const query = `UPDATE students SET full_name = $1, email = $2, birth_date = $3, group_id = $4, photo = $5, updated_at = $6
        WHERE id = $7 AND is_deleted = FALSE`
		res, err := tx.ExecContext(ctx, query, student.FullName, student.Email, student.BirthDate, student.GroupID, student.Photo, student.UpdatedAt, student.ID)
		if err != nil {
			return err
		}
		return expectAffected(res, "update student")
	})
}

// SoftDelete flags the student as deleted. The row is kept.
func (r *StudentRepository) SoftDelete(ctx context.Context, id int64) error {
	const query = `UPDATE students SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return expectAffected(res, "delete student")
}

func (r *StudentRepository) guardedWrite(ctx context.Context, student *models.Student, excludeID int64, op string, write func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var limit int
	const lockQuery = `SELECT "limit" FROM groups WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	if err = tx.GetContext(ctx, &limit, lockQuery, student.GroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("lock group: %w", err)
	}

	var count int
	const countQuery = `SELECT COUNT(*) FROM students WHERE group_id = $1 AND is_deleted = FALSE AND id <> $2`
	if err = tx.GetContext(ctx, &count, countQuery, student.GroupID, excludeID); err != nil {
		return fmt.Errorf("count group students: %w", err)
	}
	if count >= limit {
		return ErrGroupFull
	}

	var taken bool
	const emailQuery = `SELECT EXISTS(SELECT 1 FROM students WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE AND id <> $2)`
	if err = tx.GetContext(ctx, &taken, emailQuery, student.Email, excludeID); err != nil {
		return fmt.Errorf("check student email: %w", err)
	}
	if taken {
		return ErrEmailTaken
	}

	if err = write(tx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if database.IsUniqueViolation(err, database.StudentEmailUniqueIndex) {
			return ErrEmailTaken
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}
