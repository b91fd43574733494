package api

import (
	"errors"
	"net/http"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/logger"
	"agendapro/agenda-api/internal/service"

	"github.com/gin-gonic/gin"
)

var notFoundErrors = []error{
	service.ErrPlanNotFound,
	service.ErrClassNotFound,
	service.ErrPendingNotFound,
	service.ErrContactNotFound,
}

var conflictErrors = []error{
	service.ErrAlreadyResolved,
	service.ErrSignaturePending,
	service.ErrAlreadySigned,
	service.ErrStaleDecision,
	service.ErrApprovalAlreadyPending,
	service.ErrContactNotRegistered,
}

// statusFor maps a service error onto an HTTP status and the message shown to callers.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound, target.Error()
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return http.StatusConflict, target.Error()
		}
	}

	var dep *service.DependencyError
	if errors.As(err, &dep) {
		switch {
		case dep.Gone():
			return http.StatusGone, "notification destination is no longer valid; the guardian must register again"
		case dep.Unavailable():
			return http.StatusServiceUnavailable, "notification channel is not configured"
		}
		return http.StatusBadGateway, "could not deliver the notification, try again"
	}

	switch {
	case errors.Is(err, service.ErrFeatureDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized, err.Error()
	}
	return http.StatusInternalServerError, "An unexpected error occurred"
}

// respondError writes the mapped error and logs anything the caller cannot fix.
func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	_ = c.Error(err)

	var verr *domain.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		c.AbortWithStatusJSON(status, gin.H{"error": msg, "fields": verr.Fields})
		return
	}
	abortWithError(c, status, msg)
}
