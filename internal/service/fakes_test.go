package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/jobs"
)

// memoryDB backs both repository fakes so group and student services share state.
type memoryDB struct {
	mu       sync.Mutex
	groups   map[int64]*models.Group
	students map[int64]*models.Student
	nextID   int64
}

func newMemoryDB() *memoryDB {
	return &memoryDB{groups: map[int64]*models.Group{}, students: map[int64]*models.Student{}}
}

func (db *memoryDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *memoryDB) countActive(groupID, excludeID int64) int {
	count := 0
	for _, st := range db.students {
		if st.GroupID == groupID && !st.IsDeleted && st.ID != excludeID {
			count++
		}
	}
	return count
}

func (db *memoryDB) emailUsed(email string, excludeID int64) bool {
	for _, st := range db.students {
		if !st.IsDeleted && st.ID != excludeID && strings.EqualFold(st.Email, email) {
			return true
		}
	}
	return false
}

type fakeGroupRepo struct {
	db        *memoryDB
	listErr   error
	listCalls int
	updateErr error
}

func (r *fakeGroupRepo) List(ctx context.Context) ([]models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]models.Group, 0)
	for id := int64(1); id <= r.db.nextID; id++ {
		if g, ok := r.db.groups[id]; ok && !g.IsDeleted {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *fakeGroupRepo) FindByID(ctx context.Context, id int64) (*models.Group, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups[id]
	if !ok || g.IsDeleted {
		return nil, sql.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (r *fakeGroupRepo) ExistsByNo(ctx context.Context, no string, excludeID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, g := range r.db.groups {
		if !g.IsDeleted && g.ID != excludeID && g.No == no {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeGroupRepo) CountStudents(ctx context.Context, groupID, excludeStudentID int64) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.countActive(groupID, excludeStudentID), nil
}

func (r *fakeGroupRepo) Create(ctx context.Context, group *models.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	group.ID = r.db.id()
	cp := *group
	r.db.groups[group.ID] = &cp
	return nil
}

func (r *fakeGroupRepo) Update(ctx context.Context, group *models.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	g, ok := r.db.groups[group.ID]
	if !ok || g.IsDeleted {
		return sql.ErrNoRows
	}
	if group.Limit < r.db.countActive(group.ID, 0) {
		return repository.ErrLimitBelowMembers
	}
	g.No, g.Limit = group.No, group.Limit
	return nil
}

func (r *fakeGroupRepo) SoftDelete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	g, ok := r.db.groups[id]
	if !ok || g.IsDeleted {
		return sql.ErrNoRows
	}
	g.IsDeleted = true
	return nil
}

type fakeStudentRepo struct {
	db        *memoryDB
	createErr error
	updateErr error
}

func (r *fakeStudentRepo) detail(st *models.Student) models.StudentDetail {
	name := ""
	if g, ok := r.db.groups[st.GroupID]; ok {
		name = g.No
	}
	return models.StudentDetail{Student: *st, GroupName: name}
}

func (r *fakeStudentRepo) List(ctx context.Context) ([]models.StudentDetail, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]models.StudentDetail, 0)
	for id := int64(1); id <= r.db.nextID; id++ {
		if st, ok := r.db.students[id]; ok && !st.IsDeleted {
			out = append(out, r.detail(st))
		}
	}
	return out, nil
}

func (r *fakeStudentRepo) FindByID(ctx context.Context, id int64) (*models.StudentDetail, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	st, ok := r.db.students[id]
	if !ok || st.IsDeleted {
		return nil, sql.ErrNoRows
	}
	d := r.detail(st)
	return &d, nil
}

func (r *fakeStudentRepo) ExistsByEmail(ctx context.Context, email string, excludeID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.emailUsed(email, excludeID), nil
}

func (r *fakeStudentRepo) guard(st *models.Student, excludeID int64) error {
	g, ok := r.db.groups[st.GroupID]
	if !ok || g.IsDeleted {
		return repository.ErrGroupNotFound
	}
	if r.db.countActive(st.GroupID, excludeID) >= g.Limit {
		return repository.ErrGroupFull
	}
	if r.db.emailUsed(st.Email, excludeID) {
		return repository.ErrEmailTaken
	}
	return nil
}

func (r *fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if err := r.guard(student, 0); err != nil {
		return err
	}
	student.ID = r.db.id()
	cp := *student
	r.db.students[student.ID] = &cp
	return nil
}

func (r *fakeStudentRepo) Update(ctx context.Context, student *models.Student) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	current, ok := r.db.students[student.ID]
	if !ok || current.IsDeleted {
		return sql.ErrNoRows
	}
	if err := r.guard(student, student.ID); err != nil {
		return err
	}
	cp := *student
	r.db.students[student.ID] = &cp
	return nil
}

func (r *fakeStudentRepo) SoftDelete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	st, ok := r.db.students[id]
	if !ok || st.IsDeleted {
		return sql.ErrNoRows
	}
	st.IsDeleted = true
	return nil
}

type fakeUploads struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
	seq     int
}

func newFakeUploads() *fakeUploads {
	return &fakeUploads{saved: map[string][]byte{}}
}

func (f *fakeUploads) SaveUpload(original string, r io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.seq++
	name := strings.Repeat("f", f.seq) + "_" + original
	f.saved[name] = body
	return name, nil
}

func (f *fakeUploads) Delete(filename string) error {
	f.deleted = append(f.deleted, filename)
	delete(f.saved, filename)
	return nil
}

type fakeEnqueuer struct {
	jobs []jobs.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeCacheRepo struct {
	values  map[string][]byte
	deleted []string
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{values: map[string][]byte{}}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := f.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.values[key] = raw
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.deleted = append(f.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.values {
		if strings.HasPrefix(k, prefix) {
			delete(f.values, k)
		}
	}
	return nil
}

var errBoom = errors.New("boom")
