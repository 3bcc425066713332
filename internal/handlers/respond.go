package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yakka/backend/internal/apperrors"
	"github.com/yakka/backend/internal/models"
)

const (
	defaultPageLimit = 12
	maxPageLimit     = 100
)

// ErrorResponse sends a standardized error response and logs at caller if needed
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// RespondError maps err to a status by its code. Only not-found, forbidden
// and invalid-argument messages reach the client; everything else uses
// fallback.
func RespondError(c *gin.Context, err error, fallback string) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		ErrorResponse(c, http.StatusInternalServerError, fallback)
		return
	}

	switch appErr.Code {
	case apperrors.CodeNotFound:
		ErrorResponse(c, http.StatusNotFound, appErr.Message)
	case apperrors.CodeForbidden:
		ErrorResponse(c, http.StatusForbidden, appErr.Message)
	case apperrors.CodeInvalidArgument:
		ErrorResponse(c, http.StatusBadRequest, appErr.Message)
	case apperrors.CodeInvalidToken:
		ErrorResponse(c, http.StatusUnauthorized, string(apperrors.CodeInvalidToken))
	case apperrors.CodeInvalidChatID:
		ErrorResponse(c, http.StatusForbidden, string(apperrors.CodeInvalidChatID))
	default:
		ErrorResponse(c, http.StatusInternalServerError, fallback)
	}
}

// currentUser reads the id set by the auth middleware.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// bindPage reads page and limit query parameters. Pages start at 0.
func bindPage(c *gin.Context) (models.LazyLoad, error) {
	q := models.LazyLoad{Limit: defaultPageLimit}
	if err := c.ShouldBindQuery(&q); err != nil {
		return q, err
	}
	if q.Page < 0 {
		return q, errors.New("page must not be negative")
	}
	if q.Limit < 2 || q.Limit > maxPageLimit {
		return q, errors.New("limit must be between 2 and 100")
	}
	return q, nil
}

func nextPage(n int, q models.LazyLoad) *int {
	if n < q.Limit {
		return nil
	}
	p := q.Page + 1
	return &p
}
