package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/middleware"
	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

// principalOrAbort returns the caller's principal or writes 401.
func principalOrAbort(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return principal, true
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func auditMeta(c *gin.Context) service.AuditMeta {
	return service.AuditMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func studentQuery(c *gin.Context) service.StudentQuery {
	return service.StudentQuery{
		Search: strings.TrimSpace(c.Query("search")),
		Class:  strings.TrimSpace(c.Query("class")),
	}
}

// parseDateRange reads from/to calendar dates in loc. The range covers whole
// days: from midnight of from up to, but excluding, the midnight after to.
func parseDateRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	if from = strings.TrimSpace(from); from != "" {
		day, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return start, end, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD")
		}
		start = day
	}
	if to = strings.TrimSpace(to); to != "" {
		day, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return start, end, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD")
		}
		end = day.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	return start, end, nil
}
