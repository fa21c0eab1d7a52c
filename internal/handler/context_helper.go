package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &appErrors.Error{
			Code:    appErrors.ErrValidation.Code,
			Field:   "id",
			Message: "id must be a positive integer",
			Status:  http.StatusBadRequest,
			Err:     err,
		}
	}
	return id, nil
}

func invalidPayload(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}
