package httpmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/pedrohperalta/openclaw-mission-control/internal/common/errors"
	"github.com/pedrohperalta/openclaw-mission-control/internal/common/logger"
)

// Error writes a structured error response. AppError details (such as
// blocked_by_task_ids) are flattened into the body alongside code/error.
func Error(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.GetHTTPStatus(err)
	body := gin.H{"error": err.Error()}

	if app, ok := apperrors.As(err); ok {
		body["error"] = app.Message
		body["code"] = app.Code
		for k, v := range app.Details {
			body[k] = v
		}
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
