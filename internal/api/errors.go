package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/concentra-io/concentra/internal/util"
)

// errorEnvelope is the §6 error response shape.
type errorEnvelope struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id"`
}

// statusForKind maps the error taxonomy onto HTTP status codes.
func statusForKind(kind util.Kind) int {
	switch kind {
	case util.KindValidation:
		return http.StatusBadRequest
	case util.KindNotFound:
		return http.StatusNotFound
	case util.KindConflict:
		return http.StatusConflict
	case util.KindRateLimited:
		return http.StatusTooManyRequests
	case util.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case util.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as the error envelope, deriving its kind and
// status code, and logs it with request context.
func respondError(c *gin.Context, err error) {
	kind := util.AsKind(err)
	status := statusForKind(kind)
	requestID, _ := c.Get(requestIDKey)

	util.LogError(util.FromContext(c.Request.Context()), err)

	c.JSON(status, errorEnvelope{
		Error:     string(kind),
		Message:   err.Error(),
		RequestID: toString(requestID),
	})
}

// respondValidation writes a 422 for a structurally invalid request body,
// distinct from the 400 a ValidationError produces once the body parses.
func respondValidation(c *gin.Context, message string) {
	requestID, _ := c.Get(requestIDKey)
	c.JSON(http.StatusUnprocessableEntity, errorEnvelope{
		Error:     string(util.KindValidation),
		Message:   message,
		RequestID: toString(requestID),
	})
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
