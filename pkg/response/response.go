package response

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/middleware/requestid"
)

// Envelope is the JSON body of every ops response.
type Envelope struct {
	Data      any              `json:"data,omitempty"`
	Error     *appErrors.Error `json:"error,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
}

// JSON writes data inside the envelope. Responses are never cached by intermediaries.
func JSON(c *gin.Context, status int, data any) {
	write(c, status, Envelope{Data: data})
}

// Error writes err as an application error using its mapped HTTP status.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	write(c, appErr.Status, Envelope{Error: appErr})
}

func write(c *gin.Context, status int, body Envelope) {
	body.RequestID = requestid.Value(c)
	c.Header("Cache-Control", "no-store")
	c.JSON(status, body)
}
