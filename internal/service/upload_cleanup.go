package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/course-api/pkg/jobs"
)

// PhotoCleanupJobType identifies jobs removing replaced student photos.
const PhotoCleanupJobType = "student.photo.cleanup"

type fileRemover interface {
	Delete(filename string) error
}

// NewPhotoCleanupHandler returns a job handler deleting the file named by the job payload.
func NewPhotoCleanupHandler(files fileRemover) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		name, ok := job.Payload.(string)
		if !ok || name == "" {
			return fmt.Errorf("photo cleanup job %s: unexpected payload %T", job.ID, job.Payload)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return files.Delete(name)
	}
}
