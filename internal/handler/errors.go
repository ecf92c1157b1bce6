package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"movementflow/internal/flow"
	"movementflow/internal/model"
	"movementflow/internal/repository"
	"movementflow/internal/service"
	"movementflow/internal/storage"
	"movementflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to an HTTP status. Precondition failures
// are reported as warnings so the client refreshes its queue instead of
// showing a hard error.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, flow.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, flow.ErrForbidden), errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden, false
	case errors.Is(err, flow.ErrCommentRequired):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, flow.ErrStageAlreadyDecided), errors.Is(err, flow.ErrPriorStagesIncomplete),
		errors.Is(err, flow.ErrRequestClosed):
		return http.StatusConflict, true
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrNotEditable), errors.Is(err, service.ErrNotFinalizable):
		return http.StatusConflict, false
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, false
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, flow.ErrInvalidMovementType),
		errors.Is(err, model.ErrInvalidItem),
		errors.Is(err, storage.ErrExtensionNotAllowed),
		errors.Is(err, storage.ErrEmptyFile):
		return http.StatusBadRequest, false
	case errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, false
	default:
		return http.StatusInternalServerError, false
	}
}

func respondError(c *gin.Context, err error) {
	code, warning := statusFor(err)
	if warning {
		c.JSON(code, response.Warning(code, err.Error()))
		return
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal server error"
	}
	c.JSON(code, response.Error(code, msg))
}

func uploadFrom(fh *multipart.FileHeader) service.Upload {
	return service.Upload{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// formUploads collects the files posted under field. A non-multipart request
// has none.
func formUploads(c *gin.Context, field string) []service.Upload {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	headers := form.File[field]
	out := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		out = append(out, uploadFrom(fh))
	}
	return out
}
