package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/store"
	"example.com/backstage/services/shortage/internal/telemetry"
)

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, models.ErrMaterialNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case domain.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSearchUnavailable), errors.Is(err, services.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. The service has already counted rejected
// input, so only server-side failures are recorded here.
func writeError(c *gin.Context, metrics *telemetry.Collector, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		metrics.RecordError(telemetry.ErrorTypeInternal)
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// badRequest responds to a request body or query that could not be bound
func badRequest(c *gin.Context, metrics *telemetry.Collector, err error) {
	metrics.RecordError(telemetry.ErrorTypeValidation)
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
