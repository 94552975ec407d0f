package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/api/middleware"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/webhook"
)

// ReceiveWebhook handles POST /webhooks/pco. The body is authenticated and
// shape-checked here; ingestion happens in the delivery workflow.
func (s *Server) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = c.Error(apperrors.New("REQUEST_TOO_LARGE", "webhook body exceeds limit", http.StatusRequestEntityTooLarge))
			return
		}
		_ = c.Error(apperrors.BadRequest("INVALID_BODY", "failed to read request body"))
		return
	}

	candidates, err := s.secrets.Candidates(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.CodeStore, "failed to load webhook secrets", http.StatusServiceUnavailable).AsRetryable())
		return
	}
	org, err := webhook.Authenticate(c.Request.Header, body, candidates)
	if err != nil {
		logger.Warn("webhook rejected",
			zap.String("request_id", middleware.GetRequestID(c.Request.Context())),
			zap.String("remote_addr", c.ClientIP()),
		)
		_ = c.Error(err)
		return
	}

	batch, err := webhook.ParseBatch(body)
	if err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeWebhookProcessing, "webhook body is not an event batch"))
		return
	}
	webhookID := middleware.GetRequestID(c.Request.Context())
	if len(batch.Data) > 0 && batch.Data[0].ID != "" {
		webhookID = batch.Data[0].ID
	}

	res, err := s.enqueuer.DeliverWebhook(c.Request.Context(), org, webhookID, c.Request.Header, body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}
