package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/database"
)

const (
	lockGroupSQL  = `SELECT "limit" FROM groups WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	countGroupSQL = `SELECT COUNT(*) FROM students WHERE group_id = $1 AND is_deleted = FALSE AND id <> $2`
	emailTakenSQL = `SELECT EXISTS(SELECT 1 FROM students WHERE LOWER(email) = LOWER($1) AND is_deleted = FALSE AND id <> $2)`
	insertSQL     = `INSERT INTO students (full_name, email, birth_date, group_id, photo, is_deleted, created_at, updated_at)`
	updateSQL     = `UPDATE students SET full_name = $1, email = $2, birth_date = $3, group_id = $4, photo = $5, updated_at = $6`
)

func sampleStudent() *models.Student {
	return &models.Student{
		FullName:  "Ann Lee",
		Email:     "Ann@x.io",
		BirthDate: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
		GroupID:   1,
	}
}

func TestStudentRepositoryCreateCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(emailTakenSQL)).WithArgs("Ann@x.io", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(insertSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	student := sampleStudent()
	require.NoError(t, repo.Create(context.Background(), student))
	assert.Equal(t, int64(11), student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateMissingGroup(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleStudent())
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateGroupFull(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleStudent())
	assert.ErrorIs(t, err, ErrGroupFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateEmailTaken(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(emailTakenSQL)).WithArgs("Ann@x.io", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleStudent())
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateUniqueViolation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(emailTakenSQL)).WithArgs("Ann@x.io", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta(insertSQL)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.StudentEmailUniqueIndex})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleStudent())
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateExcludesSelf(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	student := sampleStudent()
	student.ID = 5

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(emailTakenSQL)).WithArgs("Ann@x.io", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(updateSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), student))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateMissingStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	student := sampleStudent()
	student.ID = 5

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockGroupSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"limit"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(countGroupSQL)).WithArgs(int64(1), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(emailTakenSQL)).WithArgs("Ann@x.io", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(updateSQL)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), student)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListJoinsGroup(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	photo := "abc_me.png"
	rows := sqlmock.NewRows([]string{"id", "full_name", "email", "birth_date", "group_id", "photo", "is_deleted", "created_at", "updated_at", "group_name"}).
		AddRow(1, "Ann Lee", "ann@x.io", time.Now(), 1, photo, false, time.Now(), time.Now(), "G1").
		AddRow(2, "Bob Ray", "bob@x.io", time.Now(), 1, nil, false, time.Now(), time.Now(), "G1")
	mock.ExpectQuery(regexp.QuoteMeta(`JOIN groups g ON g.id = s.group_id WHERE s.is_deleted = FALSE ORDER BY s.id`)).
		WillReturnRows(rows)

	students, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "G1", students[0].GroupName)
	require.NotNil(t, students[0].Photo)
	assert.Equal(t, photo, *students[0].Photo)
	assert.Nil(t, students[1].Photo)
	assert.NoError(t, mock.ExpectationsWereMet())
}
