package handlers

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"flockbridge.io/flockbridge/internal/provider"
)

// healthResponse is the GET /healthz body.
type healthResponse struct {
	Status   string               `json:"status"`
	Checks   map[string]string    `json:"checks,omitempty"`
	Provider []provider.OrgHealth `json:"provider,omitempty"`
}

// GetHealth handles GET /healthz. The database is required; provider
// reachability is reported but does not fail the probe.
func (s *Server) GetHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK

	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			resp.Checks["database"] = "error"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}
	if s.health != nil {
		resp.Provider = s.health.Snapshot()
		sort.Slice(resp.Provider, func(i, j int) bool { return resp.Provider[i].OrgID < resp.Provider[j].OrgID })
		for _, h := range resp.Provider {
			if h.Status == provider.StatusUnreachable {
				resp.Checks["provider"] = "degraded"
			}
		}
	}
	c.JSON(code, resp)
}
