package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pfa-elearn/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Kind: string(apperr.InvalidArgument)})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err, Kind: string(apperr.Unauthenticated)})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Kind: string(apperr.PermissionDenied)})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err, Kind: string(apperr.NotFound)})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Kind: string(apperr.Internal)})
}

// Error maps a classified error (pkg/apperr) to the corresponding HTTP
// status. Unclassified errors are treated as internal; their cause is never
// sent to the caller.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.Message(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.Unauthenticated:
		status = http.StatusUnauthorized
	case apperr.PermissionDenied:
		status = http.StatusForbidden
	case apperr.InvalidArgument:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.FailedPrecondition:
		status = http.StatusConflict
	}
	c.JSON(status, Body{Success: false, Error: msg, Kind: string(kind)})
}
