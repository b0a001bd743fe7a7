package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Retryable is set for infrastructure failures.
	Retryable bool `json:"retryable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if code != "" {
		c.Set(KeyErrorCode, code)
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps an error's class to a status. Internal errors never
// leak their message.
func RespondAPIError(c *gin.Context, err error) {
	var e *apierr.Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "internal_error", errors.New("internal error"))
		return
	}
	status := http.StatusInternalServerError
	switch e.Class {
	case apierr.ClassInput:
		status = http.StatusBadRequest
		if e.Status >= 400 && e.Status < 500 {
			status = e.Status
		}
	case apierr.ClassNotFound:
		status = http.StatusNotFound
	case apierr.ClassInfra:
		status = http.StatusServiceUnavailable
	}
	msg := e.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message:   msg,
			Code:      e.Code,
			Retryable: e.Class == apierr.ClassInfra,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
