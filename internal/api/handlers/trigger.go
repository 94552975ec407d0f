package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/api/middleware"
	"flockbridge.io/flockbridge/internal/jobs"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// StartSync handles POST /api/v1/orgs/:org/sync.
func (s *Server) StartSync(c *gin.Context) {
	s.trigger(c, "sync", s.enqueuer.StartPullSync)
}

// StartReconcile handles POST /api/v1/orgs/:org/subscriptions/reconcile.
func (s *Server) StartReconcile(c *gin.Context) {
	s.trigger(c, "reconcile", s.enqueuer.StartReconcile)
}

func (s *Server) trigger(c *gin.Context, what string, start func(ctx context.Context, orgID string) (jobs.Enqueued, error)) {
	org := c.Param("org")
	if org == "" {
		_ = c.Error(apperrors.ErrInvalidRequestField("org"))
		return
	}
	if _, ok := s.orgs[org]; !ok {
		_ = c.Error(apperrors.ErrOrgNotFound(org))
		return
	}
	res, err := start(c.Request.Context(), org)
	if err != nil {
		_ = c.Error(err)
		return
	}
	logger.Info("workflow triggered",
		zap.String("workflow", what),
		zap.String("org_id", org),
		zap.String("subject", middleware.GetSubject(c.Request.Context())),
		zap.Bool("duplicate", res.Duplicate),
	)
	c.JSON(http.StatusAccepted, res)
}
