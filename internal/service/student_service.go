package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/dto"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/export"
	"github.com/noah-isme/course-api/pkg/jobs"
)

const (
	defaultMaxUploadBytes int64 = 5 << 20
	birthDateLayout             = "2006-01-02"
)

var defaultAllowedMIMEs = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type studentRepository interface {
	List(ctx context.Context) ([]models.StudentDetail, error)
	FindByID(ctx context.Context, id int64) (*models.StudentDetail, error)
	ExistsByEmail(ctx context.Context, email string, excludeID int64) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	SoftDelete(ctx context.Context, id int64) error
}

type studentGroupReader interface {
	FindByID(ctx context.Context, id int64) (*models.Group, error)
	CountStudents(ctx context.Context, groupID, excludeStudentID int64) (int, error)
}

type uploadStore interface {
	SaveUpload(original string, r io.Reader) (string, error)
	Delete(filename string) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// StudentServiceConfig carries upload and URL settings.
type StudentServiceConfig struct {
	PublicPrefix     string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// StudentService implements student use cases including photo handling and roster export.
type StudentService struct {
	repo      studentRepository
	groups    studentGroupReader
	files     uploadStore
	cleanup   jobEnqueuer
	cache     *CacheService
	renderers map[string]export.Renderer
	validator *validator.Validate
	logger    *zap.Logger
	observer  operationObserver
	config    StudentServiceConfig
}

// NewStudentService constructs a StudentService. cleanup, cache and metrics may be nil.
func NewStudentService(
	repo studentRepository,
	groups studentGroupReader,
	files uploadStore,
	cleanup jobEnqueuer,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg StudentServiceConfig,
) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = defaultMaxUploadBytes
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = defaultAllowedMIMEs
	}
	cfg.PublicPrefix = strings.TrimRight(cfg.PublicPrefix, "/")

	csv := export.NewCSVRenderer()
	pdf := export.NewPDFRenderer()
	return &StudentService{
		repo:      repo,
		groups:    groups,
		files:     files,
		cleanup:   cleanup,
		cache:     cache,
		renderers: map[string]export.Renderer{csv.Extension(): csv, pdf.Extension(): pdf},
		validator: validate,
		logger:    logger,
		observer:  newOperationObserver("student", logger, metrics),
		config:    cfg,
	}
}

// Create registers a student in a group, storing the optional photo.
func (s *StudentService) Create(ctx context.Context, req dto.CreateStudentRequest, file *dto.FileUpload) (id int64, err error) {
	start := time.Now()
	defer func() {
		s.observer.done(ctx, "create", start, err, zap.Int64("student_id", id), zap.Int64("group_id", req.GroupID))
	}()

	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if err := s.checkPlacement(ctx, req.GroupID, req.Email, 0); err != nil {
		return 0, err
	}
	if err := s.validateUpload(file); err != nil {
		return 0, err
	}

	photo, err := s.saveUpload(file)
	if err != nil {
		return 0, err
	}

	student := &models.Student{
		FullName:  req.FullName,
		Email:     req.Email,
		BirthDate: req.BirthDate,
		GroupID:   req.GroupID,
		Photo:     photo,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		s.discardUpload(photo)
		return 0, mapStudentWriteError(err, "failed to create student")
	}

	s.invalidate(ctx)
	return student.ID, nil
}

// List returns every active student with group name and photo URL.
func (s *StudentService) List(ctx context.Context) (items []dto.StudentResponse, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "list", start, err, zap.Int("count", len(items))) }()

	var cached []dto.StudentResponse
	if hit, _ := s.cache.Get(ctx, studentListCacheKey, &cached); hit {
		return cached, nil
	}

	students, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	items = make([]dto.StudentResponse, 0, len(students))
	for i := range students {
		items = append(items, s.toResponse(&students[i]))
	}
	_ = s.cache.Set(ctx, studentListCacheKey, items, 0)
	return items, nil
}

// Get returns an active student by id.
func (s *StudentService) Get(ctx context.Context, id int64) (resp *dto.StudentResponse, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "get", start, err, zap.Int64("student_id", id)) }()

	student, err := s.findStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	out := s.toResponse(student)
	return &out, nil
}

// Update replaces the student's fields. The photo only changes when a file is supplied.
func (s *StudentService) Update(ctx context.Context, id int64, req dto.UpdateStudentRequest, file *dto.FileUpload) (err error) {
	start := time.Now()
	defer func() {
		s.observer.done(ctx, "update", start, err, zap.Int64("student_id", id), zap.Int64("group_id", req.GroupID))
	}()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	current, err := s.findStudent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkPlacement(ctx, req.GroupID, req.Email, id); err != nil {
		return err
	}
	if err := s.validateUpload(file); err != nil {
		return err
	}

	photo, err := s.saveUpload(file)
	if err != nil {
		return err
	}

	student := &models.Student{
		ID:        id,
		FullName:  req.FullName,
		Email:     req.Email,
		BirthDate: req.BirthDate,
		GroupID:   req.GroupID,
		Photo:     current.Photo,
	}
	if photo != nil {
		student.Photo = photo
	}
	if err := s.repo.Update(ctx, student); err != nil {
		s.discardUpload(photo)
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.WithField(appErrors.ErrNotFound, "id", "student not found")
		}
		return mapStudentWriteError(err, "failed to update student")
	}

	if photo != nil && current.Photo != nil {
		s.scheduleRemoval(*current.Photo)
	}
	s.invalidate(ctx)
	return nil
}

// Delete soft-deletes an active student.
func (s *StudentService) Delete(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "delete", start, err, zap.Int64("student_id", id)) }()

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}

	s.invalidate(ctx)
	return nil
}

// Export renders the active student roster as csv or pdf.
func (s *StudentService) Export(ctx context.Context, format string) (file *dto.ExportFile, err error) {
	start := time.Now()
	defer func() { s.observer.done(ctx, "export", start, err, zap.String("format", format)) }()

	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.WithField(appErrors.ErrValidation, "format", "format must be csv or pdf")
	}

	students, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	table := export.Table{
		Title:   "Students",
		Columns: []string{"ID", "Full name", "Email", "Birth date", "Group", "Photo"},
		Rows:    make([][]string, 0, len(students)),
	}
	for i := range students {
		resp := s.toResponse(&students[i])
		photo := ""
		if resp.PhotoURL != nil {
			photo = *resp.PhotoURL
		}
		table.Rows = append(table.Rows, []string{
			strconv.FormatInt(resp.ID, 10),
			resp.FullName,
			resp.Email,
			resp.BirthDate.Format(birthDateLayout),
			resp.GroupName,
			photo,
		})
	}

	body, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("students_%s.%s", time.Now().UTC().Format("20060102"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// checkPlacement runs the group, capacity and email checks in that order.
func (s *StudentService) checkPlacement(ctx context.Context, groupID int64, email string, studentID int64) error {
	group, err := s.groups.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.WithField(appErrors.ErrNotFound, "group_id", "group not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}

	count, err := s.groups.CountStudents(ctx, groupID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count group students")
	}
	if count >= group.Limit {
		return appErrors.WithField(appErrors.ErrGroupFull, "group_id", "group is full")
	}

	taken, err := s.repo.ExistsByEmail(ctx, email, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student email")
	}
	if taken {
		return emailTaken()
	}
	return nil
}

func (s *StudentService) validateUpload(file *dto.FileUpload) error {
	if file == nil {
		return nil
	}
	if file.Content == nil {
		return appErrors.WithField(appErrors.ErrValidation, "file", "file is empty")
	}
	if file.Size > s.config.MaxFileSizeBytes {
		return appErrors.WithField(appErrors.ErrValidation, "file", fmt.Sprintf("file exceeds %d bytes", s.config.MaxFileSizeBytes))
	}

	mtype, err := mimetype.DetectReader(file.Content)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to read upload")
	}
	if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to rewind upload")
	}
	for _, allowed := range s.config.AllowedMIMEs {
		if mtype.Is(allowed) {
			return nil
		}
	}
	return appErrors.WithField(appErrors.ErrValidation, "file", fmt.Sprintf("file type %s is not allowed", mtype.String()))
}

func (s *StudentService) saveUpload(file *dto.FileUpload) (*string, error) {
	if file == nil {
		return nil, nil
	}
	name, err := s.files.SaveUpload(file.Filename, file.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store file")
	}
	return &name, nil
}

func (s *StudentService) discardUpload(photo *string) {
	if photo == nil {
		return
	}
	if err := s.files.Delete(*photo); err != nil {
		s.logger.Warn("failed to remove orphaned upload", zap.String("file", *photo), zap.Error(err))
	}
}

func (s *StudentService) scheduleRemoval(photo string) {
	if s.cleanup != nil {
		err := s.cleanup.Enqueue(jobs.Job{ID: uuid.NewString(), Type: PhotoCleanupJobType, Payload: photo, Enqueued: time.Now().UTC()})
		if err == nil {
			return
		}
		s.logger.Warn("failed to schedule photo removal, removing inline", zap.String("file", photo), zap.Error(err))
	}
	s.discardUpload(&photo)
}

func (s *StudentService) findStudent(ctx context.Context, id int64) (*models.StudentDetail, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *StudentService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, studentCachePattern)
}

func (s *StudentService) toResponse(st *models.StudentDetail) dto.StudentResponse {
	return dto.StudentResponse{
		ID:        st.ID,
		FullName:  st.FullName,
		Email:     st.Email,
		BirthDate: st.BirthDate,
		GroupID:   st.GroupID,
		GroupName: st.GroupName,
		PhotoURL:  s.photoURL(st.Photo),
	}
}

func (s *StudentService) photoURL(photo *string) *string {
	if photo == nil || *photo == "" {
		return nil
	}
	u := s.config.PublicPrefix + "/" + url.PathEscape(*photo)
	return &u
}

func mapStudentWriteError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrGroupNotFound):
		return appErrors.WithField(appErrors.ErrNotFound, "group_id", "group not found")
	case errors.Is(err, repository.ErrGroupFull):
		return appErrors.WithField(appErrors.ErrGroupFull, "group_id", "group is full")
	case errors.Is(err, repository.ErrEmailTaken):
		return emailTaken()
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func emailTaken() *appErrors.Error {
	return appErrors.WithField(appErrors.ErrConflict, "email", "student already exists by given email")
}
