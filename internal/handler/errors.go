package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendify/internal/attendance"
	"attendify/internal/capture"
	"attendify/internal/directory"
	"attendify/internal/hardware"
	"attendify/internal/leave"
	"attendify/internal/secondfactor"
	"attendify/internal/verification"
)

// statusOf maps domain errors onto HTTP statuses. Order matters where errors
// wrap each other.
func statusOf(err error) int {
	var rejected *verification.RejectedError
	switch {
	case errors.Is(err, verification.ErrComparatorTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, verification.ErrComparator):
		return http.StatusBadGateway
	case errors.Is(err, secondfactor.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, secondfactor.ErrNoChallenge):
		return http.StatusGone
	case errors.Is(err, verification.ErrTwoFactorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, attendance.ErrAlreadyRecorded),
		errors.Is(err, leave.ErrAlreadyDecided),
		errors.Is(err, directory.ErrEmailTaken),
		errors.Is(err, verification.ErrBusy),
		errors.Is(err, verification.ErrInvalidTransition),
		errors.Is(err, verification.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, verification.ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, verification.ErrCameraUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, verification.ErrNoSession),
		errors.Is(err, directory.ErrUserNotFound),
		errors.Is(err, directory.ErrClassNotFound),
		errors.Is(err, leave.ErrNotFound),
		errors.Is(err, hardware.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrRoleNotAssignable),
		errors.Is(err, directory.ErrSelfRoleChange),
		errors.Is(err, directory.ErrAdminImmutable),
		errors.Is(err, leave.ErrSelfDecision),
		errors.Is(err, attendance.ErrSelfOverride):
		return http.StatusForbidden
	case errors.Is(err, verification.ErrPrecondition),
		errors.Is(err, verification.ErrInvalidTwoFactorCode),
		errors.Is(err, verification.ErrNotEnrolled),
		errors.Is(err, verification.ErrOutsideGeofence),
		errors.Is(err, verification.ErrLocationUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrFrameTooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, verification.ErrInvalidBypassStatus),
		errors.Is(err, directory.ErrInvalidUser),
		errors.Is(err, directory.ErrInvalidRole),
		errors.Is(err, directory.ErrInvalidSettings),
		errors.Is(err, directory.ErrInvalidClass),
		errors.Is(err, directory.ErrEmptyTemplate),
		errors.Is(err, leave.ErrInvalid),
		errors.Is(err, leave.ErrBadDecision),
		errors.Is(err, hardware.ErrInvalidNode),
		errors.Is(err, hardware.ErrNotCamera),
		errors.Is(err, attendance.ErrInvalidRecord),
		errors.Is(err, capture.ErrBadDataURL),
		errors.Is(err, capture.ErrUnsupportedImage),
		errors.Is(err, capture.ErrNoFrame):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err as JSON. Unclassified errors are logged and hidden.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var rejected *verification.RejectedError
	if errors.As(err, &rejected) {
		body["confidence"] = rejected.Confidence
		body["threshold"] = rejected.Threshold
		body["isMatch"] = rejected.IsMatch
	}
	var pre *verification.PreconditionError
	if errors.As(err, &pre) {
		body["missing"] = pre.Missing
	}
	c.JSON(status, body)
}
